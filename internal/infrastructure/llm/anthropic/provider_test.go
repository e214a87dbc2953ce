package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	llm "github.com/ngoclaw/agentcore/internal/infrastructure/llm"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// wireRequest mirrors the fields the tests inspect.
type wireRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    string `json:"system"`
	Messages  []struct {
		Role    string `json:"role"`
		Content []struct {
			Type         string          `json:"type"`
			Text         string          `json:"text"`
			CacheControl json.RawMessage `json:"cache_control"`
		} `json:"content"`
	} `json:"messages"`
	TopK int `json:"top_k"`
}

func testProvider(t *testing.T, handler http.HandlerFunc, cfg valueobject.ProviderConfig) (llm.Provider, valueobject.ProviderConfig) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL
	return New(cfg, server.Client(), zap.NewNop()), cfg
}

func conversation(n int) []service.LLMMessage {
	msgs := []service.LLMMessage{{Role: "system", Content: "You are helpful."}}
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, service.LLMMessage{Role: role, Content: "turn"})
	}
	return msgs
}

func TestGenerateResponse(t *testing.T) {
	t.Parallel()

	var got wireRequest
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("headers = %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "msg_test",
			"type":    "message",
			"role":    "assistant",
			"content": []map[string]any{{"type": "text", "text": "hi"}},
			"model":   "claude-sonnet-4-5",
			"usage": map[string]any{
				"input_tokens":                100,
				"output_tokens":               15,
				"cache_read_input_tokens":     50,
				"cache_creation_input_tokens": 20,
			},
		})
	}

	p, cfg := testProvider(t, handler, valueobject.ProviderConfig{
		Provider:  "anthropic",
		Model:     "anthropic/claude-sonnet-4-5",
		APIKey:    "sk-test",
		MaxTokens: 1024,
		Extra:     map[string]any{"top_k": 5, "model": "ignored"},
	})

	resp, err := p.GenerateResponse(context.Background(), conversation(3), cfg)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}

	if got.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q, extra params must not override core keys", got.Model)
	}
	if got.System != "You are helpful." || got.MaxTokens != 1024 || got.TopK != 5 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (system sent separately)", len(got.Messages))
	}

	if resp.Content != "hi" || resp.Model != "claude-sonnet-4-5" {
		t.Errorf("response = %+v", resp)
	}
	want := service.TokenUsage{PromptTokens: 100, CompletionTokens: 15, TotalTokens: 185, CacheCreationTokens: 20, CacheReadTokens: 50}
	if resp.Usage != want {
		t.Errorf("usage = %+v, want %+v", resp.Usage, want)
	}
}

func TestBuildRequest_CacheBoundary(t *testing.T) {
	for n := 0; n <= 6; n++ {
		req := BuildRequest(conversation(n), valueobject.ProviderConfig{Model: "m"}, true)

		marked := 0
		for _, m := range req.Messages {
			if m.Content[0].CacheControl != nil {
				marked++
			}
		}
		if want := llm.CacheBoundary(n); marked != want {
			t.Errorf("n=%d: marked %d, want %d", n, marked, want)
		}
		if n > 0 && req.Messages[n-1].Content[0].CacheControl != nil {
			t.Errorf("n=%d: newest message must never be marked", n)
		}
	}
}

func TestBuildRequest_CachingDisabled(t *testing.T) {
	req := BuildRequest(conversation(4), valueobject.ProviderConfig{Model: "m"}, false)
	for i, m := range req.Messages {
		if m.Content[0].CacheControl != nil {
			t.Errorf("message %d marked with caching disabled", i)
		}
	}
}

func TestGenerateResponse_MissingKeyMakesNoCall(t *testing.T) {
	var calls int32
	p, cfg := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}, valueobject.ProviderConfig{Model: "m"})

	_, err := p.GenerateResponse(context.Background(), conversation(1), cfg)
	if !apperrors.IsConfiguration(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no request may be sent without a credential")
	}
}

func TestGenerateResponse_UpstreamError(t *testing.T) {
	p, cfg := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}, valueobject.ProviderConfig{Model: "m", APIKey: "k"})

	_, err := p.GenerateResponse(context.Background(), conversation(1), cfg)
	var appErr *apperrors.AppError
	if !apperrors.IsUpstream(err) {
		t.Fatalf("err = %v, want upstream error", err)
	}
	appErr = err.(*apperrors.AppError)
	if appErr.StatusCode != http.StatusTooManyRequests || appErr.Body == "" {
		t.Errorf("status = %d, body = %q", appErr.StatusCode, appErr.Body)
	}
}

func TestGenerateResponse_Malformed(t *testing.T) {
	p, cfg := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content": "not-a-list"`))
	}, valueobject.ProviderConfig{Model: "m", APIKey: "k"})

	if _, err := p.GenerateResponse(context.Background(), conversation(1), cfg); !apperrors.IsMalformedResponse(err) {
		t.Fatalf("err = %v, want malformed response error", err)
	}

	p, cfg = testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, valueobject.ProviderConfig{Model: "m", APIKey: "k"})
	if _, err := p.GenerateResponse(context.Background(), conversation(1), cfg); !apperrors.IsMalformedResponse(err) {
		t.Fatalf("empty object: err = %v, want malformed response error", err)
	}
}
