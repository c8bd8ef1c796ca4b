package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeInvalid     ErrorType = "invalid_request"
	ErrorTypeUnsupported ErrorType = "unsupported"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// XRPC error names returned in the "error" field of a failed response.
const (
	NameExpiredToken         = "ExpiredToken"
	NameInvalidToken         = "InvalidToken"
	NameAuthRequired         = "AuthenticationRequired"
	NameAuthFactorRequired   = "AuthFactorTokenRequired"
	NameInvalidRequest       = "InvalidRequest"
	NameMethodNotImplemented = "MethodNotImplemented"
	NameRateLimitExceeded    = "RateLimitExceeded"
	NameAccountTakedown      = "AccountTakedown"
)

// Error represents an API error with type information
type Error struct {
	Type    ErrorType
	Code    int
	Name    string
	Message string

	// RetryAfter is set when the server announced when the limit resets.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s error (code %d, %s): %s", e.Type, e.Code, e.Name, e.Message)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// New creates an Error of the given type.
func New(t ErrorType, code int, msg string) *Error {
	return &Error{Type: t, Code: code, Message: msg}
}

// FromResponse classifies a failed XRPC response by status code and error name.
func FromResponse(code int, name, msg string) *Error {
	e := &Error{Code: code, Name: name, Message: msg}
	if e.Message == "" {
		e.Message = http.StatusText(code)
	}

	switch name {
	case NameExpiredToken, NameInvalidToken, NameAuthRequired, NameAuthFactorRequired, NameAccountTakedown:
		e.Type = ErrorTypeAuth
		return e
	case NameRateLimitExceeded:
		e.Type = ErrorTypeRateLimit
		return e
	case NameMethodNotImplemented:
		e.Type = ErrorTypeUnsupported
		return e
	}

	switch {
	case code == http.StatusTooManyRequests:
		e.Type = ErrorTypeRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e.Type = ErrorTypeAuth
	case code == http.StatusNotFound:
		e.Type = ErrorTypeNotFound
	case code == http.StatusNotImplemented:
		e.Type = ErrorTypeUnsupported
	case code == http.StatusBadRequest:
		e.Type = ErrorTypeInvalid
	case code >= 500:
		e.Type = ErrorTypeServerError
	default:
		e.Type = ErrorTypeUnknown
	}
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	if e, ok := As(err); ok {
		return e.Type
	}
	return ErrorTypeUnknown
}

// HasName reports whether err carries the given XRPC error name.
func HasName(err error, name string) bool {
	e, ok := As(err)
	return ok && e.Name == name
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableError reports whether err is an *Error with a retryable type.
func IsRetryableError(err error) bool {
	e, ok := As(err)
	return ok && IsRetryable(e.Type)
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case http.StatusTooManyRequests:
		return true
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusNotImplemented:
		return false
	default:
		return statusCode >= 500
	}
}
