package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, recovery time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(threshold, recovery)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	if cb.State() != CircuitClosed {
		t.Fatal("expected closed state by default")
	}
	if !cb.Allow() {
		t.Fatal("expected allow in closed state")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("should still be closed after 2 failures")
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("should be open after 3 failures")
	}
	if cb.Allow() {
		t.Fatal("should not allow when open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Fatal("success should have reset the failure count")
	}
}

func TestCircuitBreaker_SingleTrialAfterRecovery(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Second)
	cb.RecordFailure()
	cb.RecordFailure()

	clock.advance(999 * time.Millisecond)
	if cb.Allow() {
		t.Fatal("should stay open before the recovery timeout")
	}

	clock.advance(time.Millisecond)
	if !cb.Allow() {
		t.Fatal("should allow a trial call after the recovery timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatal("should be half-open")
	}
	if cb.Allow() {
		t.Fatal("only one trial call may be in flight")
	}
}

func TestCircuitBreaker_TrialOutcome(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Second)
	cb.RecordFailure()
	cb.RecordFailure()
	clock.advance(time.Second)
	cb.Allow()

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("failed trial call should reopen the circuit")
	}

	clock.advance(time.Second)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatal("successful trial call should close the circuit")
	}
}

func TestCircuitBreaker_RecordClassifiesErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		trips bool
	}{
		{"server error", apperrors.NewUpstreamError("x", 503, ""), true},
		{"rate limited", apperrors.NewUpstreamError("x", 429, ""), true},
		{"network", apperrors.NewUpstreamErrorWithCause("x", errors.New("reset")), true},
		{"malformed", apperrors.NewMalformedResponseError("x", nil), true},
		{"bad request", apperrors.NewUpstreamError("x", 400, ""), false},
		{"missing key", apperrors.NewConfigurationError("x"), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := newTestBreaker(1, time.Second)
			cb.Record(tt.err)
			if got := cb.State() == CircuitOpen; got != tt.trips {
				t.Errorf("open = %v, want %v", got, tt.trips)
			}
		})
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	cb.RecordFailure()
	cb.Reset()
	if cb.State() != CircuitClosed || !cb.Allow() {
		t.Fatal("should be closed and allowing after reset")
	}
}

func TestCircuitBreaker_ConfigurationErrorKeepsFailureCount(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Second)

	cb.Record(apperrors.NewUpstreamError("x", 503, ""))
	cb.Record(apperrors.NewConfigurationError("missing API key"))
	cb.Record(context.Canceled)
	cb.Record(apperrors.NewUpstreamError("x", 503, ""))
	if cb.State() != CircuitOpen {
		t.Fatal("configuration errors must not reset the consecutive failure count")
	}

	// A half-open trial call that never reached the endpoint is released.
	clock.advance(time.Second)
	if !cb.Allow() {
		t.Fatal("expected a trial call after the recovery timeout")
	}
	cb.Record(apperrors.NewConfigurationError("missing API key"))
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if !cb.Allow() {
		t.Error("a released trial call should be admitted again")
	}
}

func TestCircuitBreaker_StateStrings(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half_open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
