// utils/retry.go
package utils

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs idempotent operations with exponential backoff.
// Only reads go through here; anything that moves funds is called once.
type Retry struct {
	ctx            context.Context
	maxElapsedTime time.Duration
	maxInterval    time.Duration
	onError        func(error)
}

func NewRetry() *Retry {
	return &Retry{
		ctx:            context.Background(),
		maxElapsedTime: 10 * time.Second,
		maxInterval:    2 * time.Second,
	}
}

func (r *Retry) WithContext(ctx context.Context) *Retry {
	r.ctx = ctx
	return r
}

func (r *Retry) WithMaxElapsedTime(d time.Duration) *Retry {
	r.maxElapsedTime = d
	return r
}

func (r *Retry) WithMaxInterval(d time.Duration) *Retry {
	r.maxInterval = d
	return r
}

func (r *Retry) WithOnError(f func(error)) *Retry {
	r.onError = f
	return r
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (r *Retry) Run(f func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.maxElapsedTime
	b.MaxInterval = r.maxInterval

	err := backoff.RetryNotify(f, backoff.WithContext(b, r.ctx), func(err error, _ time.Duration) {
		if r.onError != nil {
			r.onError(err)
		}
	})

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
