package jobs

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/corgi-proxy/corgi/internal/apierr"
	"github.com/corgi-proxy/corgi/internal/config"
)

// classifyRetry wraps a non-retryable apierr.Error as a backoff.Permanent
// error so the retry loop stops immediately instead of burning its
// budget on a validation or access failure.
func classifyRetry(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := apierr.As(err); ok && !apiErr.Retryable() {
		return backoff.Permanent(err)
	}
	return err
}

// runWithRetry executes fn, retrying transient failures with exponential
// backoff and jitter up to cfg.MaxRetries attempts.
func runWithRetry(ctx context.Context, cfg config.JobsConfig, fn func(ctx context.Context) error) (int, error) {
	attempts := 0

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Duration(cfg.RetryBaseDelayMs)*time.Millisecond),
		backoff.WithMaxInterval(time.Duration(cfg.RetryMaxDelayMs)*time.Millisecond),
	)

	operation := func() (struct{}, error) {
		attempts++
		if err := fn(ctx); err != nil {
			return struct{}{}, classifyRetry(err)
		}
		return struct{}{}, nil
	}

	maxTries := uint(cfg.MaxRetries)
	if maxTries == 0 {
		maxTries = 1
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
	return attempts, err
}
