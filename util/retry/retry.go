// Package retry runs an operation until it succeeds, with a linear backoff between attempts.
package retry

import (
	"context"
	"time"

	"github.com/nodekeeper/nodekeeper/ulogger"
)

type Options func(*SetOptions)

type SetOptions struct {
	Message             string
	RetryCount          int
	BackoffMultiplier   int
	BackoffDurationType time.Duration
	InfiniteRetry       bool
	RetryIf             func(error) bool
}

// WithMessage logs a warning with message before every backoff.
func WithMessage(message string) Options {
	return func(o *SetOptions) {
		o.Message = message
	}
}

func WithRetryCount(retryCount int) Options {
	return func(o *SetOptions) {
		o.RetryCount = retryCount
	}
}

// WithBackoffMultiplier sets how much longer each backoff gets. Zero keeps a fixed interval.
func WithBackoffMultiplier(backoffMultiplier int) Options {
	return func(o *SetOptions) {
		o.BackoffMultiplier = backoffMultiplier
	}
}

func WithBackoffDurationType(backoffDurationType time.Duration) Options {
	return func(o *SetOptions) {
		o.BackoffDurationType = backoffDurationType
	}
}

// WithInfiniteRetry retries until the function succeeds or the context is done.
func WithInfiniteRetry() Options {
	return func(o *SetOptions) {
		o.InfiniteRetry = true
	}
}

// WithRetryIf stops retrying as soon as retryIf returns false for an error.
func WithRetryIf(retryIf func(error) bool) Options {
	return func(o *SetOptions) {
		o.RetryIf = retryIf
	}
}

// replaced in tests
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff is (multiplier*attempt + 1) units.
func backoff(attempt, multiplier int, unit time.Duration) time.Duration {
	return time.Duration(multiplier*attempt+1) * unit
}

// Retry calls f until it succeeds, the retry budget is spent or ctx is done.
// The last error from f is returned when retries are exhausted, ctx.Err() when the context ends first.
func Retry[T any](ctx context.Context, logger ulogger.Logger, f func() (T, error), opts ...Options) (T, error) {
	o := &SetOptions{
		RetryCount:          3,
		BackoffMultiplier:   2,
		BackoffDurationType: time.Second,
	}

	for _, opt := range opts {
		opt(o)
	}

	var (
		result T
		err    error
	)

	for attempt := 0; o.InfiniteRetry || attempt < o.RetryCount; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		if result, err = f(); err == nil {
			return result, nil
		}

		if o.RetryIf != nil && !o.RetryIf(err) {
			return result, err
		}

		if !o.InfiniteRetry && attempt == o.RetryCount-1 {
			break
		}

		if o.Message != "" {
			logger.Warnf("%s (attempt %d): %v", o.Message, attempt+1, err)
		}

		if sleepErr := sleepFunc(ctx, backoff(attempt, o.BackoffMultiplier, o.BackoffDurationType)); sleepErr != nil {
			return result, sleepErr
		}
	}

	return result, err
}
