package anthropic

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

const (
	anthropicVersion = "2023-06-01"
	defaultBaseURL   = "https://api.anthropic.com"
)

// Provider implements the Anthropic Messages API natively.
type Provider struct {
	baseURL string
	caching bool
	client  *http.Client
	logger  *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates an Anthropic API provider. It satisfies llm.Constructor.
func New(cfg valueobject.ProviderConfig, client *http.Client, logger *zap.Logger) llm.Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		baseURL: baseURL,
		caching: cfg.CachingEnabled(),
		client:  client,
		logger:  logger.With(zap.String("type", "anthropic"), zap.String("model", cfg.Model)),
	}
}

func (p *Provider) Kind() valueobject.ProviderKind { return valueobject.ProviderAnthropic }
func (p *Provider) Endpoint() string               { return p.baseURL }

// GenerateResponse implements service.LLMClient.
func (p *Provider) GenerateResponse(ctx context.Context, messages []service.LLMMessage, cfg valueobject.ProviderConfig) (*service.LLMResponse, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigurationError("anthropic: missing API key for " + cfg.Name)
	}

	body, err := llm.EncodeBody(BuildRequest(messages, cfg, p.caching), cfg.Extra)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"x-api-key":         cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var apiResp Response
	if err := llm.PostJSON(ctx, p.client, p.baseURL+"/v1/messages", headers, body, &apiResp); err != nil {
		return nil, err
	}
	return parseResponse(&apiResp)
}

// BuildRequest serializes messages into a Messages API request. The system
// message goes to the top-level field; every turn except the newest carries
// a cache marker when caching is on.
func BuildRequest(messages []service.LLMMessage, cfg valueobject.ProviderConfig, caching bool) *Request {
	model := cfg.Model
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	req := &Request{
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = valueobject.DefaultMaxTokens // Anthropic requires explicit max_tokens
	}

	turns := messages
	if len(turns) > 0 && turns[0].Role == "system" {
		req.System = turns[0].Content
		turns = turns[1:]
	}

	req.Messages = make([]Message, 0, len(turns))
	for i, msg := range turns {
		role := "user"
		if msg.Role == "assistant" {
			role = "assistant"
		}
		block := ContentBlock{Type: "text", Text: msg.Content}
		if llm.Cacheable(i, len(turns), caching) {
			block.CacheControl = llm.Ephemeral()
		}
		req.Messages = append(req.Messages, Message{Role: role, Content: []ContentBlock{block}})
	}
	return req
}

func parseResponse(apiResp *Response) (*service.LLMResponse, error) {
	if apiResp.Model == "" && len(apiResp.Content) == 0 {
		return nil, apperrors.NewMalformedResponseError("anthropic: response has no model and no content", nil)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &service.LLMResponse{
		Content: text.String(),
		Model:   apiResp.Model,
		Usage: service.TokenUsage{
			PromptTokens:        apiResp.Usage.InputTokens,
			CompletionTokens:    apiResp.Usage.OutputTokens,
			TotalTokens:         apiResp.Usage.Total(),
			CacheCreationTokens: apiResp.Usage.CacheCreationInputTokens,
			CacheReadTokens:     apiResp.Usage.CacheReadInputTokens,
		},
	}, nil
}
