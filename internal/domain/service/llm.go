package service

import (
	"context"
	"time"

	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
)

// LLMMessage is a single role/content entry sent to a backend.
type LLMMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// TokenUsage holds normalized usage counters. Cache counters are zero when the
// backend does not report them.
type TokenUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// LLMResponse is the normalized backend output.
type LLMResponse struct {
	Content string     `json:"content"`
	Model   string     `json:"model"`
	Usage   TokenUsage `json:"usage"`
}

// LLMClient is the uniform provider contract. messages is ordered with the
// system message, if any, first.
type LLMClient interface {
	GenerateResponse(ctx context.Context, messages []LLMMessage, cfg valueobject.ProviderConfig) (*LLMResponse, error)
}

// ProviderResolver returns the client serving a provider configuration.
// Implementations cache clients so identical configurations share state.
type ProviderResolver interface {
	ClientFor(cfg valueobject.ProviderConfig) (LLMClient, error)
}

// CallObserver receives one notification per backend call.
type CallObserver interface {
	ObserveCall(provider, model string, elapsed time.Duration, usage *TokenUsage, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveCall(string, string, time.Duration, *TokenUsage, error) {}
