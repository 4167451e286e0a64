package resilience

import (
	"context"
	"time"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

func (r RetryPolicy) Do(fn func() error) error {
	return r.DoContext(context.Background(), fn)
}

// DoContext retries fn until it succeeds, retries are exhausted, or ctx is
// cancelled. Fatal and config errors are never retried.
func (r RetryPolicy) DoContext(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errorsx.IsFatal(err) || errorsx.IsConfig(err) {
			return err
		}
		if i == r.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.Backoff):
		}
	}
	return err
}
