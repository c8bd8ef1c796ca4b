// Package bsky is a small XRPC client for the Bluesky AppView and PDS.
//
// Every call is paced by a ratelimit.Limiter, retried with backoff on
// transient failures and mapped onto the typed errors of pkg/errors. An
// expired access token is refreshed once and the call replayed; callers that
// persist sessions register OnSessionUpdate to learn about new tokens.
package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"bskyarchive/pkg/config"
	errs "bskyarchive/pkg/errors"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/ratelimit"
	"bskyarchive/pkg/retry"
)

// maxResponseSize bounds how much of a response body is read
const maxResponseSize = 32 << 20

type authMode int

const (
	// authNone sends no credentials
	authNone authMode = iota
	// authAccess sends the access token when a session is present
	authAccess
	// authRefresh sends the refresh token
	authRefresh
)

// Options configures a Client
type Options struct {
	Service    string
	UserAgent  string
	Timeout    time.Duration
	FeedFilter string
	HTTPClient *http.Client
	Limiter    ratelimit.Limiter
	Retry      *retry.Config
	Logger     logger.Logger
}

// Client represents an XRPC client bound to at most one session
type Client struct {
	httpClient *http.Client
	service    string
	userAgent  string
	feedFilter string
	limiter    ratelimit.Limiter
	retry      *retry.Config
	logger     logger.Logger

	mu        sync.RWMutex
	session   *Session
	onSession func(Session)
}

// NewClient creates a new client
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
		opts.Retry.Logger = opts.Logger
	}
	if opts.FeedFilter == "" {
		opts.FeedFilter = FilterPostsWithReplies
	}

	return &Client{
		httpClient: opts.HTTPClient,
		service:    opts.Service,
		userAgent:  opts.UserAgent,
		feedFilter: opts.FeedFilter,
		limiter:    opts.Limiter,
		retry:      opts.Retry,
		logger:     opts.Logger,
	}
}

// NewClientFromConfig creates a client from application settings
func NewClientFromConfig(cfg *config.Config, log logger.Logger) *Client {
	return NewClient(Options{
		Service:    cfg.Bluesky.Service,
		UserAgent:  cfg.Bluesky.UserAgent,
		Timeout:    cfg.Bluesky.Timeout,
		FeedFilter: cfg.Bluesky.FeedFilter,
		Limiter:    ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		Retry:      retry.FromConfig(cfg.Retry, log),
		Logger:     log,
	})
}

// SetSession installs s as the client's session
func (c *Client) SetSession(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = &s
}

// Session returns the current session, if any
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// OnSessionUpdate registers fn to be called whenever tokens change
func (c *Client) OnSessionUpdate(fn func(Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSession = fn
}

// updateSession stores s and notifies the registered callback.
func (c *Client) updateSession(s Session) {
	c.mu.Lock()
	c.session = &s
	fn := c.onSession
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// baseURL is the session's PDS, or the configured service before login.
func (c *Client) baseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil && c.session.PDS != "" {
		return c.session.PDS
	}
	return c.service
}

func (c *Client) token(mode authMode) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	switch mode {
	case authAccess:
		return c.session.AccessJWT
	case authRefresh:
		return c.session.RefreshJWT
	}
	return ""
}

// query performs an XRPC GET
func (c *Client) query(ctx context.Context, nsid string, params url.Values, out interface{}) error {
	return c.call(ctx, http.MethodGet, nsid, params, nil, out, authAccess)
}

// procedure performs an XRPC POST
func (c *Client) procedure(ctx context.Context, nsid string, body, out interface{}, mode authMode) error {
	return c.call(ctx, http.MethodPost, nsid, nil, body, out, mode)
}

// call runs one XRPC call with retries, refreshing an expired session once.
func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, body, out interface{}, mode authMode) error {
	attempt := func() error {
		return c.doRequest(ctx, method, nsid, params, body, out, mode)
	}

	err := retry.Do(ctx, c.retry, attempt)
	if err == nil || mode != authAccess || !errs.HasName(err, errs.NameExpiredToken) {
		return err
	}

	c.logger.DebugWithFields("access token expired, refreshing session", map[string]interface{}{
		"nsid": nsid,
	})
	if rerr := c.RefreshSession(ctx); rerr != nil {
		return fmt.Errorf("failed to refresh session: %w", rerr)
	}
	return retry.Do(ctx, c.retry, attempt)
}

// doRequest performs a single HTTP exchange
func (c *Client) doRequest(ctx context.Context, method, nsid string, params url.Values, body, out interface{}, mode authMode) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errs.New(errs.ErrorTypeInvalid, 0, fmt.Sprintf("failed to encode request: %v", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, xrpcURL(c.baseURL(), nsid, params), reader)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, 0, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if tok := c.token(mode); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"nsid":     nsid,
			"error":    err.Error(),
			"duration": duration,
		})
		return errs.New(errs.ErrorTypeNetwork, 0, fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	logger.LogRequest(c.logger, method, nsid, resp.StatusCode, duration)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errs.New(errs.ErrorTypeNetwork, resp.StatusCode, fmt.Sprintf("failed to read response body: %v", err))
	}

	if resp.StatusCode >= 400 {
		return c.responseError(resp, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		preview := string(data)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"nsid":         nsid,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, fmt.Sprintf("failed to parse JSON: %v", err))
	}
	return nil
}

// responseError converts a failed response into a typed error
func (c *Client) responseError(resp *http.Response, data []byte) error {
	var body xrpcError
	_ = json.Unmarshal(data, &body)

	apiErr := errs.FromResponse(resp.StatusCode, body.Error, body.Message)
	if apiErr.Type == errs.ErrorTypeRateLimit {
		apiErr.RetryAfter = retryAfter(resp.Header, time.Now())
	}
	return apiErr
}

// retryAfter reads the ratelimit-reset (epoch seconds) or Retry-After
// (seconds) header.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Ratelimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
