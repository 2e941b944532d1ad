// Package retry wraps cenkalti/backoff with the attempt policy used for
// worker submissions: transient errors are retried with exponential delay,
// fatal errors abort immediately.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. retryable decides which errors are worth another attempt.
// The returned error wraps the last cause and names the attempt count.
func Do[T any](ctx context.Context, logger *slog.Logger, op string, policy Policy, retryable func(error) bool, fn func() (T, error)) (T, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.BaseDelay
	exp.RandomizationFactor = 0.2

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.MaxAttempts-1)), ctx)

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		out, err := fn()
		if err != nil && !retryable(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("retrying "+op,
			"attempt", attempt,
			"next_in", next,
			"error", err)
	}

	out, err := backoff.RetryNotifyWithData(wrapped, b, notify)
	if err != nil {
		return out, fmt.Errorf("%s failed after %d attempt(s): %w", op, attempt, err)
	}
	return out, nil
}
