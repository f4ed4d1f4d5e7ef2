package providers

import (
	"context"
	"fmt"
	"time"
)

// WithRetry runs fn up to cfg.MaxRetries times total, with exponential
// backoff between attempts (RetryDelay, 2*RetryDelay, 4*RetryDelay, ...).
// Each attempt gets its own timeout derived from ctx. Non-retryable errors
// stop the loop immediately; context cancellation aborts the backoff wait.
func WithRetry(ctx context.Context, cfg Config, operation string, fn func(ctx context.Context) error) error {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			delay := cfg.RetryDelay * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}

		lastErr = fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if lastErr == nil {
			return nil
		}

		if !IsRetryable(lastErr) {
			return lastErr
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries, lastErr)
}
