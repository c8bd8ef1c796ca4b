package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bskyarchive/pkg/config"
	errs "bskyarchive/pkg/errors"
	"bskyarchive/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// Config holds retry configuration
type Config struct {
	// MaxAttempts counts the first call, so 1 disables retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to each interval (0..1).
	Jitter float64

	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          backoff.DefaultRandomizationFactor,
		RetryIf:         DefaultRetryIf,
	}
}

// FromConfig builds a retry Config from the application settings
func FromConfig(c config.RetryConfig, log logger.Logger) *Config {
	cfg := DefaultConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialInterval > 0 {
		cfg.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		cfg.MaxInterval = c.MaxInterval
	}
	if c.Multiplier >= 1 {
		cfg.Multiplier = c.Multiplier
	}
	cfg.Logger = log
	return cfg
}

// DefaultRetryIf retries typed API errors whose type is transient.
// Untyped errors and context errors are not retried.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errs.IsRetryableError(err)
}

// floorBackOff raises the next interval to a server-announced reset delay.
type floorBackOff struct {
	backoff.BackOff
	floor *time.Duration
}

func (f floorBackOff) NextBackOff() time.Duration {
	next := f.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if *f.floor > next {
		next = *f.floor
	}
	*f.floor = 0
	return next
}

// newPolicy builds the cenkalti backoff policy for cfg bound to ctx.
func (cfg *Config) newPolicy(ctx context.Context, floor *time.Duration) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = cfg.Jitter
	exp.MaxElapsedTime = 0

	retries := cfg.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}

	var policy backoff.BackOff = backoff.WithMaxRetries(exp, uint64(retries))
	policy = floorBackOff{BackOff: policy, floor: floor}
	return backoff.WithContext(policy, ctx)
}

// Do executes op, retrying per cfg until it succeeds, fails permanently,
// runs out of attempts or ctx is done. The last error is returned.
func Do(ctx context.Context, cfg *Config, op Operation) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}

	var floor time.Duration
	attempt := 0

	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		if !retryIf(err) {
			return backoff.Permanent(err)
		}
		if apiErr, ok := errs.As(err); ok && apiErr.RetryAfter > 0 {
			floor = apiErr.RetryAfter
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
				"error":   err.Error(),
			})
		}
	}

	return backoff.RetryNotify(wrapped, cfg.newPolicy(ctx, &floor), notify)
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg *Config, op func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = op()
		return err
	})
	return result, err
}
