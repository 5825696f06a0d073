package sqlite

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how long a store operation is retried while the
// database is locked by another process.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy adds roughly three seconds of retries on top of the
// driver's busy timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// retry runs op until it succeeds, fails with a non-busy error, the policy
// is exhausted or ctx is done.
func (p RetryPolicy) retry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
