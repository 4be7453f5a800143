package reliability

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tasklane/internal/clickup"
	"github.com/ashita-ai/tasklane/internal/telemetry"
)

// RetryExhaustedError is returned when every attempt failed with a
// retryable error.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("reliability: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// RetryOptions configures RetryWithBackoff.
type RetryOptions struct {
	// MaxAttempts counts the first call. Values below 1 mean 3.
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt; it doubles after
	// each further failure and carries up to the same amount of jitter.
	// Zero disables sleeping.
	BaseBackoff time.Duration
	// Retryable reports whether err may be retried. Nil means IsTransient.
	Retryable func(err error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// IsTransient reports whether err is a ClickUp rate-limit or API error.
func IsTransient(err error) bool {
	return errors.Is(err, clickup.ErrRateLimited) || errors.Is(err, clickup.ErrAPI)
}

var retryCounter, _ = telemetry.Meter("tasklane/reliability").Int64Counter("tasklane.reliability.retries",
	metric.WithDescription("Retried attempts of wrapped external calls"),
)

// RetryWithBackoff calls op until it succeeds, fails with a non-retryable
// error (returned unwrapped after one call), or runs out of attempts
// (RetryExhaustedError). Context cancellation stops the wait between
// attempts and returns ctx.Err().
func RetryWithBackoff[T any](ctx context.Context, op func(context.Context) (T, error), opts RetryOptions) (T, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	retryable := opts.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	delay := opts.BaseBackoff
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts {
			return zero, &RetryExhaustedError{Attempts: attempt, Last: err}
		}

		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, wait, err)
		}
		retryCounter.Add(ctx, 1)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(wait):
			}
		} else if err := ctx.Err(); err != nil {
			return zero, err
		}
		delay *= 2
	}
}
