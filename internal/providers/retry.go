package providers

import (
	"context"
	"time"
)

// RetryConfig bounds the connection-phase retry loop a Provider runs
// before handing a stream to the Agent Runtime. Per spec §4.9.2 the
// Runtime itself owns the turn-level retry/failover decision; RetryConfig
// here covers only the provider's own transport-connect retries (matching
// the teacher's "retry only the connection phase; once streaming starts,
// no retry" comment in anthropic.go).
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig matches spec §4.9.2's backoff formula:
// delay_s = min(2^(n-1), 30), up to 3 retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Backoff returns the delay before retry attempt n (1-indexed), per spec
// §4.9.2: min(2^(n-1), 30s).
func (c RetryConfig) Backoff(n int) time.Duration {
	d := c.BaseDelay << uint(n-1)
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// RetryDo runs fn, retrying on a retryable error classification up to
// cfg.MaxRetries times with exponential backoff. Only the connection
// phase is retried: fn must fail fast before committing to a stream so a
// partially-streamed response is never silently retried underneath the
// caller.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.Backoff(attempt)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Classify(err).Retryable() {
			return zero, err
		}
	}
	return zero, lastErr
}
