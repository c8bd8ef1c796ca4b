// Package retry wraps cenkalti/backoff with the archiver's error taxonomy.
//
// Only errors whose pkg/errors type is transient (network, rate_limit,
// server_error) are retried. A rate limit error that carries RetryAfter
// stretches the next delay to at least that long.
//
//	err := retry.Do(ctx, retry.FromConfig(cfg.Retry, log), func() error {
//		return client.call(ctx, req)
//	})
package retry
