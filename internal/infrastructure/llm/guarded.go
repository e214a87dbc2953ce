package llm

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// guardedClient wraps a Provider with its endpoint's circuit breaker and
// per-instance call statistics.
type guardedClient struct {
	provider Provider
	breaker  *CircuitBreaker
	logger   *zap.Logger
	model    string

	mu    sync.Mutex
	stats providerStats
}

// providerStats tracks per-instance call metrics.
type providerStats struct {
	TotalCalls   int64
	FailureCount int64
	LastLatency  time.Duration
}

// ProviderStatus describes an adapter's current state and performance
type ProviderStatus struct {
	Kind          string  `json:"kind"`
	Endpoint      string  `json:"endpoint"`
	Model         string  `json:"model"`
	TotalCalls    int64   `json:"total_calls"`
	FailureCount  int64   `json:"failure_count"`
	LastLatencyMs float64 `json:"last_latency_ms"`
	CircuitState  string  `json:"circuit_state"`
}

var _ service.LLMClient = (*guardedClient)(nil)

func newGuardedClient(p Provider, model string, cb *CircuitBreaker, logger *zap.Logger) *guardedClient {
	return &guardedClient{
		provider: p,
		breaker:  cb,
		model:    model,
		logger:   logger.With(zap.String("kind", string(p.Kind())), zap.String("endpoint", p.Endpoint())),
	}
}

// GenerateResponse implements service.LLMClient.
func (g *guardedClient) GenerateResponse(ctx context.Context, messages []service.LLMMessage, cfg valueobject.ProviderConfig) (resp *service.LLMResponse, err error) {
	if !g.breaker.Allow() {
		g.logger.Debug("Provider circuit open, failing fast")
		return nil, apperrors.NewUpstreamError("provider circuit open", http.StatusServiceUnavailable, "")
	}

	start := time.Now()
	defer func() {
		latency := time.Since(start)
		g.breaker.Record(err)

		g.mu.Lock()
		g.stats.TotalCalls++
		g.stats.LastLatency = latency
		if err != nil {
			g.stats.FailureCount++
		}
		g.mu.Unlock()

		if err != nil {
			g.logger.Warn("Provider call failed",
				zap.String("model", cfg.Model),
				zap.Duration("latency", latency),
				zap.String("circuit", g.breaker.State().String()),
				zap.Error(err),
			)
		}
	}()

	return g.provider.GenerateResponse(ctx, messages, cfg)
}

func (g *guardedClient) status() ProviderStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ProviderStatus{
		Kind:          string(g.provider.Kind()),
		Endpoint:      g.provider.Endpoint(),
		Model:         g.model,
		TotalCalls:    g.stats.TotalCalls,
		FailureCount:  g.stats.FailureCount,
		LastLatencyMs: float64(g.stats.LastLatency) / float64(time.Millisecond),
		CircuitState:  g.breaker.State().String(),
	}
}
