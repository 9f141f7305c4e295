// Package errorpolicy implements the gating rules, retry backoff, and
// circuit breaker that decide what happens after an agent failure
// (spec section 4.7).
package errorpolicy

import (
	"sync"
	"time"
)

// CircuitState is one of the three circuit breaker states.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker tracks consecutive failures, not a rolling failure
// rate: Closed -> Open on >= failureThreshold consecutive failures,
// Open -> HalfOpen after resetTimeout elapses, HalfOpen -> Closed after
// successThreshold consecutive successes, any failure in HalfOpen
// reopens (spec section 4.7).
type CircuitBreaker struct {
	name              string
	failureThreshold  int
	successThreshold  int
	resetTimeout      time.Duration

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
}

func NewCircuitBreaker(name string, failureThreshold, successThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		state:            CircuitClosed,
	}
}

func (cb *CircuitBreaker) GetName() string { return cb.name }

func (cb *CircuitBreaker) GetFailureThreshold() int { return cb.failureThreshold }

func (cb *CircuitBreaker) GetResetTimeout() time.Duration { return cb.resetTimeout }

// GetState returns the current state, first promoting Open to HalfOpen
// if resetTimeout has elapsed since it opened.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		cb.state = CircuitHalfOpen
		cb.consecutiveSuccess = 0
	}
}

// AllowRequest reports whether a new attempt may proceed under the
// current state. Stop-gating callers check this before dispatch.
func (cb *CircuitBreaker) AllowRequest() bool {
	return cb.GetState() != CircuitOpen
}

// RecordSuccess registers a successful attempt.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()

	switch cb.state {
	case CircuitHalfOpen:
		cb.consecutiveSuccess++
		if cb.consecutiveSuccess >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.consecutiveFailures = 0
			cb.consecutiveSuccess = 0
		}
	case CircuitClosed:
		cb.consecutiveFailures = 0
	}
}

// RecordFailure registers a failed attempt.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()

	switch cb.state {
	case CircuitHalfOpen:
		cb.openCircuitLocked()
	case CircuitClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.openCircuitLocked()
		}
	}
}

func (cb *CircuitBreaker) openCircuitLocked() {
	cb.state = CircuitOpen
	cb.openedAt = time.Now()
	cb.consecutiveSuccess = 0
}
