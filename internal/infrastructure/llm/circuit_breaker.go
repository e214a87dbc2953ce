package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject calls
	CircuitHalfOpen                     // Testing recovery
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one backend endpoint. Consecutive backend-side
// failures beyond the threshold open the circuit; after the recovery timeout
// one trial call is let through.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failures         int
	failureThreshold int
	recoveryTimeout  time.Duration
	openedAt         time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds.
// Non-positive values select 5 failures and 30 seconds.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. An open circuit whose recovery
// timeout has elapsed moves to half-open and admits a single trial call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		// half-open: the trial call is already in flight
		return false
	}
}

// Record updates the breaker with a call result. Only failures that say
// something about the endpoint's health count against it. Configuration
// errors and cancellation leave the counts untouched.
func (cb *CircuitBreaker) Record(err error) {
	if err == nil {
		cb.RecordSuccess()
		return
	}
	if noVerdict(err) {
		cb.releaseTrial()
		return
	}
	if countsAsFailure(err) {
		cb.RecordFailure()
		return
	}
	// The endpoint answered; a client-side rejection still proves it is up.
	cb.RecordSuccess()
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure; a failed trial call reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
}

// releaseTrial returns a half-open circuit to open without counting a
// failure, so the next Allow admits a new trial call.
func (cb *CircuitBreaker) releaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
	}
}

// noVerdict: errors raised before the endpoint was reached, or by the caller.
func noVerdict(err error) bool {
	return errors.Is(err, context.Canceled) || apperrors.IsConfiguration(err)
}

// countsAsFailure: network errors, timeouts, 429 and 5xx.
func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case apperrors.CodeUpstream:
		s := appErr.StatusCode
		return s == 0 || s == http.StatusTooManyRequests || s >= 500
	case apperrors.CodeMalformedResponse:
		return true
	default:
		return false
	}
}
