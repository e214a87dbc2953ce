package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"configuration", NewConfigurationError("no provider"), IsConfiguration},
		{"upstream", NewUpstreamError("anthropic", 529, "overloaded"), IsUpstream},
		{"malformed", NewMalformedResponseError("bad json", errors.New("eof")), IsMalformedResponse},
		{"persistence", NewPersistenceError("write", errors.New("disk full")), IsPersistence},
		{"not found", NewNotFoundError("conversation"), IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("dispatch: %w", tt.err)
			if !tt.is(wrapped) {
				t.Errorf("predicate did not match wrapped %v", wrapped)
			}
		})
	}
}

func TestUpstreamErrorMessageCarriesStatusAndBody(t *testing.T) {
	err := NewUpstreamError("openai API error", 429, `{"error":"rate limited"}`)
	msg := err.Error()
	if !strings.Contains(msg, "429") || !strings.Contains(msg, "rate limited") {
		t.Errorf("Error() = %q, want status and body", msg)
	}
	if CodeOf(err) != CodeUpstream {
		t.Errorf("CodeOf = %q", CodeOf(err))
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if IsUpstream(nil) {
		t.Error("IsUpstream(nil) should be false")
	}
}
