package openrouter

import (
	llm "github.com/ngoclaw/agentcore/internal/infrastructure/llm"
	"github.com/ngoclaw/agentcore/internal/infrastructure/llm/openai"
)

// OpenRouter speaks the chat completions format but accepts Anthropic-style
// content blocks, so every message carries a block list that may hold a
// cache_control marker. Responses share the OpenAI shape.

type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type         string            `json:"type"`
	Text         string            `json:"text"`
	CacheControl *llm.CacheControl `json:"cache_control,omitempty"`
}

// Response is the OpenAI-compatible completion body.
type Response = openai.Response
