package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig controls a Retrier's backoff schedule.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryConfig is a general-purpose backoff schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// DatabaseRetryConfig is tuned for PostgreSQL contention (deadlocks,
// serialization failures, connection exhaustion) where more attempts
// at a gentler backoff recover more often than DefaultRetryConfig.
func DatabaseRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      250 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1.5,
		Jitter:            true,
	}
}

var retryableSubstrings = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"too many connections",
	"deadlock",
	"lock timeout",
	"serialization failure",
	"could not serialize access",
	"connection lost",
	"server closed the connection",
	"broken pipe",
	"i/o timeout",
	"network is unreachable",
	"no route to host",
}

// retryableError lets a caller force a specific retry decision,
// overriding the message-pattern heuristic.
type retryableError struct {
	err       error
	retryable bool
	reason    string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable=%t (%s): %v", e.retryable, e.reason, e.err)
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// WrapRetryableError marks err with an explicit retry decision. It
// returns nil when err is nil.
func WrapRetryableError(err error, retryable bool, reason string) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err, retryable: retryable, reason: reason}
}

// IsRetryableError reports whether err is worth retrying: explicit
// RetryableError wrappers are honored first, then well-known
// non-retryable sentinels, then a substring match against common
// transient-failure messages.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var re *retryableError
	if errors.As(err, &re) {
		return re.retryable
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableSubstrings {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Operation is a unit of work a Retrier can retry, given the attempt
// number it is currently on (starting at 1).
type Operation func(ctx context.Context, attempt int) (any, error)

// Retrier runs an Operation with exponential backoff.
type Retrier struct {
	config RetryConfig
	log    *logrus.Logger
}

// NewRetrier builds a Retrier with config.
func NewRetrier(config RetryConfig, log *logrus.Logger) *Retrier {
	if log == nil {
		log = logrus.New()
	}
	return &Retrier{config: config, log: log}
}

func (r *Retrier) delayFor(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	if maxDelay := float64(r.config.MaxDelay); delay > maxDelay {
		delay = maxDelay
	}
	if r.config.Jitter {
		delay = delay * (0.5 + rand.Float64()*0.5)
	}
	return time.Duration(delay)
}

// ExecuteWithType runs operation, retrying retryable failures up to
// MaxAttempts times with backoff between attempts.
func (r *Retrier) ExecuteWithType(ctx context.Context, operation Operation) (any, error) {
	maxAttempts := r.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := operation(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.delayFor(attempt)):
		}
	}

	return nil, fmt.Errorf("operation failed after %d attempts: %w", maxAttempts, lastErr)
}

// DatabaseRetrier is a Retrier preconfigured with DatabaseRetryConfig
// and a named-operation logging convention.
type DatabaseRetrier struct {
	retrier *Retrier
	log     *logrus.Logger
}

// NewDatabaseRetrier builds a DatabaseRetrier.
func NewDatabaseRetrier(log *logrus.Logger) *DatabaseRetrier {
	if log == nil {
		log = logrus.New()
	}
	return &DatabaseRetrier{retrier: NewRetrier(DatabaseRetryConfig(), log), log: log}
}

// ExecuteDBOperation runs operation under the database retry policy,
// logging name once if the operation finally fails.
func (d *DatabaseRetrier) ExecuteDBOperation(ctx context.Context, name string, operation Operation) (any, error) {
	result, err := d.retrier.ExecuteWithType(ctx, operation)
	if err != nil {
		d.log.WithError(err).WithField("operation", name).Warn("database operation failed")
	}
	return result, err
}

// RetryIfNeeded adapts a plain func() error into the Operation shape
// and runs it under config's retry policy.
func RetryIfNeeded(ctx context.Context, config RetryConfig, log *logrus.Logger, operation func() error) error {
	retrier := NewRetrier(config, log)
	_, err := retrier.ExecuteWithType(ctx, func(ctx context.Context, attempt int) (any, error) {
		if err := operation(); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}
