package openai

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	llm "github.com/ngoclaw/agentcore/internal/infrastructure/llm"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements the OpenAI-compatible chat completions API. The whole
// message list, system included, is sent as one flat sequence without cache
// markers. It also serves unrecognized OpenAI-compatible backends.
type Provider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates an OpenAI-compatible provider. It satisfies llm.Constructor.
func New(cfg valueobject.ProviderConfig, client *http.Client, logger *zap.Logger) llm.Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		baseURL: baseURL,
		client:  client,
		logger:  logger.With(zap.String("type", "openai"), zap.String("model", cfg.Model)),
	}
}

func (p *Provider) Kind() valueobject.ProviderKind { return valueobject.ProviderOpenAI }
func (p *Provider) Endpoint() string               { return p.baseURL }

// GenerateResponse implements service.LLMClient.
func (p *Provider) GenerateResponse(ctx context.Context, messages []service.LLMMessage, cfg valueobject.ProviderConfig) (*service.LLMResponse, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigurationError("openai: missing API key for " + cfg.Name)
	}

	body, err := llm.EncodeBody(BuildRequest(messages, cfg), cfg.Extra)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}

	var apiResp Response
	if err := llm.PostJSON(ctx, p.client, p.baseURL+"/chat/completions", headers, body, &apiResp); err != nil {
		return nil, err
	}
	return ParseResponse(&apiResp)
}

// BuildRequest serializes messages as a flat chat completions request.
func BuildRequest(messages []service.LLMMessage, cfg valueobject.ProviderConfig) *Request {
	req := &Request{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages:    make([]Message, len(messages)),
	}
	for i, msg := range messages {
		req.Messages[i] = Message{Role: msg.Role, Content: msg.Content}
	}
	return req
}

// ParseResponse normalizes a chat completions response. Also used by
// backends that share the response shape.
func ParseResponse(apiResp *Response) (*service.LLMResponse, error) {
	if len(apiResp.Choices) == 0 {
		return nil, apperrors.NewMalformedResponseError("chat completion has no choices", nil)
	}
	return &service.LLMResponse{
		Content: apiResp.Choices[0].Message.Content,
		Model:   apiResp.Model,
		Usage: service.TokenUsage{
			PromptTokens:     apiResp.Usage.Prompt(),
			CompletionTokens: apiResp.Usage.Completion(),
			TotalTokens:      apiResp.Usage.Total(),
			CacheReadTokens:  apiResp.Usage.Cached(),
		},
	}, nil
}
