package delivery

import (
	"context"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the exponential backoff used for channels whose
// Deliver implementation reports a *RetryableError.
type RetryPolicy struct {
	MaxRetries int
}

// DefaultRetryPolicy retries up to 5 times with exponential backoff
// and jitter between attempts.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5}

// withRetry runs op, retrying on RetryableError up to policy.MaxRetries
// times with exponential backoff. A terminal (non-retryable) error
// returns immediately.
func withRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		opErr := op()
		if opErr == nil {
			return struct{}{}, nil
		}
		if !IsRetryable(opErr) {
			return struct{}{}, backoff.Permanent(opErr)
		}
		return struct{}{}, opErr
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uint(policy.MaxRetries+1)))
	return err
}
