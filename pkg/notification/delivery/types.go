// Package delivery sends a compiled AlertNotification out over its
// channel (email, webhook, or the file adapter used in local
// development) and reports whether the attempt can be retried.
package delivery

import (
	"context"
	"fmt"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// Service delivers a single notification over one channel. A non-nil
// error may be a *RetryableError, signalling the dispatcher should
// retry with backoff instead of marking the notification FAILED
// immediately.
type Service interface {
	Deliver(ctx context.Context, notification *domain.AlertNotification) error
}

// RetryableError wraps a delivery failure that is expected to be
// transient (a closed connection, a 5xx response, a full disk) so the
// caller can distinguish it from a terminal failure (bad credentials,
// a 4xx response, a malformed address) without inspecting error text.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func retryable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Op: op, Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is a
// *RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return asRetryable(err, &re)
}

func asRetryable(err error, target **RetryableError) bool {
	for err != nil {
		if re, ok := err.(*RetryableError); ok {
			*target = re
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
