package logger

import (
	"context"
	"time"
)

// LogRequest logs a completed XRPC call at a level matching its status
func LogRequest(l Logger, method, nsid string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":   method,
		"nsid":     nsid,
		"status":   statusCode,
		"duration": duration,
	}

	switch {
	case statusCode >= 500:
		l.ErrorWithFields("xrpc server error", fields)
	case statusCode >= 400:
		l.WarnWithFields("xrpc client error", fields)
	default:
		l.DebugWithFields("xrpc request completed", fields)
	}
}

// LogRateLimit logs that the download cooldown blocked a run
func LogRateLimit(l Logger, handle string, remaining time.Duration) {
	l.WithFields(map[string]interface{}{
		"handle":    handle,
		"remaining": remaining,
		"action":    "rate_limited",
	}).Warn("download cooldown active")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
