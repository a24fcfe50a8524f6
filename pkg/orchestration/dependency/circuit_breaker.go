// Package dependency guards calls into components that can fail or
// slow down independently of the caller — the embedding service, the
// vector store, an outbound notification channel — with circuit
// breaking and in-memory fallbacks so one degraded dependency does not
// cascade into the whole pipeline stalling.
package dependency

import (
	"time"

	"github.com/sony/gobreaker"
)

// CircuitState is the lifecycle state of a CircuitBreaker.
type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"
	CircuitStateOpen     CircuitState = "open"
	CircuitStateHalfOpen CircuitState = "half-open"
)

// minRequests is the floor below which a failure rate is not
// statistically meaningful enough to trip the breaker.
const minRequests = 5

// CircuitBreaker wraps a sony/gobreaker breaker, trading its raw
// Settings/State API for the name/threshold/timeout vocabulary the
// rest of this package (and the orchestrator wiring it against each
// notification channel) already speaks.
type CircuitBreaker struct {
	name             string
	failureThreshold float64
	resetTimeout     time.Duration
	breaker          *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a CircuitBreaker in the closed state. It
// trips once at least minRequests calls have been observed in the
// current closed-state window and their failure rate reaches
// failureThreshold; once open it rejects calls until resetTimeout has
// elapsed, then lets exactly one half-open trial call through.
func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureThreshold
		},
	})
	return cb
}

// Call runs fn if the circuit allows it, recording the outcome. It
// returns the underlying error from fn, or a rejection error if the
// circuit is open and the reset timeout has not yet elapsed.
func (cb *CircuitBreaker) Call(fn func() error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// GetState returns the breaker's current state.
func (cb *CircuitBreaker) GetState() CircuitState {
	switch cb.breaker.State() {
	case gobreaker.StateOpen:
		return CircuitStateOpen
	case gobreaker.StateHalfOpen:
		return CircuitStateHalfOpen
	default:
		return CircuitStateClosed
	}
}

// GetName returns the breaker's identifying name.
func (cb *CircuitBreaker) GetName() string {
	return cb.name
}

// GetFailureThreshold returns the configured trip threshold.
func (cb *CircuitBreaker) GetFailureThreshold() float64 {
	return cb.failureThreshold
}

// GetResetTimeout returns the configured open-state recovery delay.
func (cb *CircuitBreaker) GetResetTimeout() time.Duration {
	return cb.resetTimeout
}

// GetFailureRate returns the observed failure rate over the current
// counting window (reset whenever the breaker changes state).
func (cb *CircuitBreaker) GetFailureRate() float64 {
	counts := cb.breaker.Counts()
	if counts.Requests == 0 {
		return 0
	}
	return float64(counts.TotalFailures) / float64(counts.Requests)
}

// GetFailures returns the failure count over the current counting
// window.
func (cb *CircuitBreaker) GetFailures() int64 {
	return int64(cb.breaker.Counts().TotalFailures)
}
