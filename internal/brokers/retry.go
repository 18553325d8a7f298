package brokers

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
)

// RetryPolicy bounds connection attempts
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns exponential backoff starting at 500ms, capped at 10s
func DefaultRetryPolicy(maxTries int) RetryPolicy {
	if maxTries < 1 {
		maxTries = 1
	}
	return RetryPolicy{
		MaxTries:        uint(maxTries),
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// DialWithRetry calls dial until it succeeds, returns a permanent error, or the policy
// is exhausted. Errors of type config are treated as permanent.
func DialWithRetry[T any](ctx context.Context, brokerName string, policy RetryPolicy, dial func(ctx context.Context) (T, error)) (T, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = policy.InitialInterval
	expBackoff.MaxInterval = policy.MaxInterval

	attempt := 0
	operation := func() (T, error) {
		attempt++
		conn, err := dial(ctx)
		if err != nil && errors.IsType(err, errors.ErrTypeConfig) {
			return conn, backoff.Permanent(err)
		}
		return conn, err
	}

	notify := func(err error, next time.Duration) {
		logging.Warn("broker connection failed, retrying",
			logging.String("broker", brokerName),
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", next),
			logging.Err(err),
		)
	}

	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(policy.MaxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var zero T
		if errors.IsType(err, errors.ErrTypeConfig) {
			return zero, err
		}
		return zero, errors.ConnectionError("failed to connect to broker", err).
			WithContext("broker", brokerName).
			WithContext("attempts", attempt)
	}
	return conn, nil
}
