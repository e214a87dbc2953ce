package monitoring

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/infrastructure/eventbus"
)

func TestObserveCall(t *testing.T) {
	m := NewMetrics()

	usage := &service.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 170, CacheReadTokens: 50}
	m.ObserveCall("anthropic", "claude", 1500*time.Millisecond, usage, nil)
	m.ObserveCall("anthropic", "claude", time.Second, nil, context.DeadlineExceeded)

	if got := testutil.ToFloat64(m.ProviderCalls.WithLabelValues("anthropic", "claude", "ok")); got != 1 {
		t.Errorf("ok calls = %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderCalls.WithLabelValues("anthropic", "claude", "cancelled")); got != 1 {
		t.Errorf("cancelled calls = %v", got)
	}
	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("anthropic", "claude", "cache_read")); got != 50 {
		t.Errorf("cache_read tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("anthropic", "claude", "prompt")); got != 100 {
		t.Errorf("prompt tokens = %v", got)
	}
	if n := testutil.CollectAndCount(m.ProviderLatency); n != 1 {
		t.Errorf("latency series = %d", n)
	}
}

func TestAttach_CountsBusEvents(t *testing.T) {
	m := NewMetrics()
	mon := NewMonitor(2)
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 64)
	detach := m.Attach(bus, mon)

	ctx := context.Background()
	bus.Emit(ctx, service.EventDispatchReplied, service.DispatchEvent{AgentName: "alice", Outcome: service.OutcomeReplied,
		Usage: &service.TokenUsage{TotalTokens: 30, CacheReadTokens: 10}})
	bus.Emit(ctx, service.EventDispatchSkipped, service.DispatchEvent{AgentName: "alice", Outcome: service.OutcomeSkippedDuplicate})
	for i := 0; i < 3; i++ {
		bus.Emit(ctx, service.EventDispatchFailed, service.DispatchEvent{
			MessageID: string(rune('a' + i)), AgentName: "bob", Outcome: service.OutcomeFailed, ErrorKind: "transient", Error: "boom",
		})
	}
	bus.Emit(ctx, service.EventIdentityReserved, service.IdentityEvent{Slug: "carol"})
	bus.Emit(ctx, service.EventIdentityPublished, service.IdentityEvent{Slug: "carol"})
	bus.Close()
	detach()

	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("alice", "replied")); got != 1 {
		t.Errorf("replied = %v", got)
	}
	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("bob", "failed")); got != 3 {
		t.Errorf("failed = %v", got)
	}
	if got := testutil.ToFloat64(m.IdentitiesTotal.WithLabelValues("published")); got != 1 {
		t.Errorf("published = %v", got)
	}

	stats := mon.GetStats()
	if stats.Replied != 1 || stats.Skipped != 1 || stats.Failed != 3 || stats.TokensUsed != 30 || stats.CacheReadTokens != 10 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.RecentFailures) != 2 {
		t.Errorf("recent failures = %d, want history limit 2", len(stats.RecentFailures))
	}
}

func TestHandler_ServesExposition(t *testing.T) {
	m := NewMetrics()
	m.DispatchTotal.WithLabelValues("alice", "replied").Inc()
	m.ObserveCall("openai", "gpt", time.Second, nil, errors.New("dial tcp: refused"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`agentcore_dispatch_total{agent="alice",outcome="replied"} 1`,
		`agentcore_provider_calls_total{model="gpt",provider="openai",status=`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNewMetrics_Independent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.RetentionRemoved.Add(3)
	if testutil.ToFloat64(b.RetentionRemoved) != 0 {
		t.Error("instances must not share collectors")
	}
}
