package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrKindCancelled},
		{"auth", apperrors.NewUpstreamError("rejected", 401, ""), ErrKindAuth},
		{"rate limit", apperrors.NewUpstreamError("rejected", 429, ""), ErrKindTransient},
		{"server", apperrors.NewUpstreamError("rejected", 502, ""), ErrKindTransient},
		{"bad request", apperrors.NewUpstreamError("rejected", 400, ""), ErrKindBadRequest},
		{"network", apperrors.NewUpstreamErrorWithCause("send", errors.New("reset")), ErrKindTransient},
		{"config", ErrNoProviderConfig, ErrKindConfiguration},
		{"malformed", apperrors.NewMalformedResponseError("bad json", nil), ErrKindMalformed},
		{"persistence", fmt.Errorf("save: %w", apperrors.NewPersistenceError("write", nil)), ErrKindPersistence},
		{"other", errors.New("boom"), ErrKindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorKindRetryable(t *testing.T) {
	if !ErrKindTransient.IsRetryable() || ErrKindConfiguration.IsRetryable() {
		t.Error("retryable classification wrong")
	}
}
