// Package retry implements exponential retry policy.
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/kopia/mimespool/logging"
)

var log = logging.Module("mimespool/retry")

//nolint:gochecknoglobals
var (
	maxAttempts             = 10
	retryInitialSleepAmount = 100 * time.Millisecond
	retryMaxSleepAmount     = 32 * time.Second
)

// AttemptFunc performs an attempt and returns a value (optional, may be nil) and an error.
type AttemptFunc[T any] func() (T, error)

// IsRetriableFunc is a function that determines whether an error is retriable.
type IsRetriableFunc func(err error) bool

// WithExponentialBackoff runs the provided attempt until it succeeds, retrying on all errors that are
// deemed retriable by the provided function. The delay between retries grows exponentially up to
// a certain limit.
func WithExponentialBackoff[T any](ctx context.Context, desc string, attempt AttemptFunc[T], isRetriableError IsRetriableFunc) (T, error) {
	return WithExponentialBackoffMaxRetries(ctx, maxAttempts, desc, attempt, isRetriableError)
}

// WithExponentialBackoffNoValue is a shorthand for WithExponentialBackoff except the
// attempt function does not return any value.
func WithExponentialBackoffNoValue(ctx context.Context, desc string, attempt func() error, isRetriableError IsRetriableFunc) error {
	_, err := WithExponentialBackoff(ctx, desc, NoValueFn(attempt), isRetriableError)

	return err
}

// NoValueFn adapts a function returning only an error to AttemptFunc.
func NoValueFn(attempt func() error) AttemptFunc[bool] {
	return func() (bool, error) {
		return true, attempt()
	}
}

// WithExponentialBackoffMaxRetries is the same as WithExponentialBackoff,
// additionally it allows customizing the max number of retries before giving up.
func WithExponentialBackoffMaxRetries[T any](ctx context.Context, maxRetries int, desc string, attempt AttemptFunc[T], isRetriableError IsRetriableFunc) (T, error) {
	sleepAmount := retryInitialSleepAmount

	var defaultT T

	for i := range maxRetries {
		if cerr := ctx.Err(); cerr != nil {
			//nolint:wrapcheck
			return defaultT, cerr
		}

		v, err := attempt()
		if err == nil || !isRetriableError(err) {
			return v, err
		}

		log(ctx).Debugf("got error %v when %v (#%v), sleeping for %v before retrying", err, desc, i, sleepAmount)

		select {
		case <-ctx.Done():
			//nolint:wrapcheck
			return defaultT, ctx.Err()
		case <-time.After(sleepAmount):
		}

		sleepAmount *= 2
		if sleepAmount > retryMaxSleepAmount {
			sleepAmount = retryMaxSleepAmount
		}
	}

	return defaultT, errors.Errorf("unable to complete %v despite %v retries", desc, maxRetries)
}

// Always is a retry function that retries all errors.
func Always(err error) bool {
	return true
}

// Never is a retry function that never retries.
func Never(err error) bool {
	return false
}
