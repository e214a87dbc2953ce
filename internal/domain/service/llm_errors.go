package service

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// ErrorKind classifies dispatch failures for logging and metrics.
type ErrorKind int

const (
	// ErrKindTransient means the error is temporary and a redelivery may succeed.
	// Examples: timeout, network reset, 429, 5xx.
	ErrKindTransient ErrorKind = iota

	// ErrKindAuth means authentication or authorization failed (401/403).
	ErrKindAuth

	// ErrKindBadRequest means the backend rejected the request itself (4xx).
	ErrKindBadRequest

	// ErrKindConfiguration means no usable provider configuration or credential.
	ErrKindConfiguration

	// ErrKindMalformed means the backend response could not be parsed.
	ErrKindMalformed

	// ErrKindPersistence means a storage read or write failed.
	ErrKindPersistence

	// ErrKindCancelled means the call was cancelled or hit its deadline.
	ErrKindCancelled

	// ErrKindInternal covers everything else.
	ErrKindInternal
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindAuth:
		return "auth"
	case ErrKindBadRequest:
		return "bad_request"
	case ErrKindConfiguration:
		return "configuration"
	case ErrKindMalformed:
		return "malformed_response"
	case ErrKindPersistence:
		return "persistence"
	case ErrKindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// IsRetryable reports whether redelivering the message may succeed.
func (k ErrorKind) IsRetryable() bool {
	return k == ErrKindTransient || k == ErrKindCancelled
}

// ClassifyError maps an error onto an ErrorKind. AppError codes and upstream
// status codes are used when present.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrKindInternal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrKindCancelled
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.CodeConfiguration:
			return ErrKindConfiguration
		case apperrors.CodeMalformedResponse:
			return ErrKindMalformed
		case apperrors.CodePersistence:
			return ErrKindPersistence
		case apperrors.CodeUpstream:
			return classifyStatus(appErr.StatusCode)
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "context canceled") {
		return ErrKindCancelled
	}
	return ErrKindInternal
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth
	case status == 429 || status == 529 || status >= 500 || status == 0:
		return ErrKindTransient
	case status >= 400:
		return ErrKindBadRequest
	default:
		return ErrKindTransient
	}
}
