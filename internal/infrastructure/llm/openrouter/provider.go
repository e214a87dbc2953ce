package openrouter

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	llm "github.com/ngoclaw/agentcore/internal/infrastructure/llm"
	"github.com/ngoclaw/agentcore/internal/infrastructure/llm/openai"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Provider implements OpenRouter's chat completions with cache markers on the
// system segment and on every turn except the newest.
type Provider struct {
	baseURL string
	caching bool
	client  *http.Client
	logger  *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates an OpenRouter provider. It satisfies llm.Constructor.
func New(cfg valueobject.ProviderConfig, client *http.Client, logger *zap.Logger) llm.Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		baseURL: baseURL,
		caching: cfg.CachingEnabled(),
		client:  client,
		logger:  logger.With(zap.String("type", "openrouter"), zap.String("model", cfg.Model)),
	}
}

func (p *Provider) Kind() valueobject.ProviderKind { return valueobject.ProviderOpenRouter }
func (p *Provider) Endpoint() string               { return p.baseURL }

// GenerateResponse implements service.LLMClient.
func (p *Provider) GenerateResponse(ctx context.Context, messages []service.LLMMessage, cfg valueobject.ProviderConfig) (*service.LLMResponse, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigurationError("openrouter: missing API key for " + cfg.Name)
	}

	body, err := llm.EncodeBody(BuildRequest(messages, cfg, p.caching), cfg.Extra)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}

	var apiResp Response
	if err := llm.PostJSON(ctx, p.client, p.baseURL+"/chat/completions", headers, body, &apiResp); err != nil {
		return nil, err
	}
	return openai.ParseResponse(&apiResp)
}

// BuildRequest segments messages into content blocks. The model name keeps
// its "vendor/" prefix since OpenRouter routes on it.
func BuildRequest(messages []service.LLMMessage, cfg valueobject.ProviderConfig, caching bool) *Request {
	req := &Request{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages:    make([]Message, 0, len(messages)),
	}

	turns := messages
	if len(turns) > 0 && turns[0].Role == "system" {
		block := ContentBlock{Type: "text", Text: turns[0].Content}
		if caching {
			block.CacheControl = llm.Ephemeral()
		}
		req.Messages = append(req.Messages, Message{Role: "system", Content: []ContentBlock{block}})
		turns = turns[1:]
	}

	for i, msg := range turns {
		block := ContentBlock{Type: "text", Text: msg.Content}
		if llm.Cacheable(i, len(turns), caching) {
			block.CacheControl = llm.Ephemeral()
		}
		req.Messages = append(req.Messages, Message{Role: msg.Role, Content: []ContentBlock{block}})
	}
	return req
}
