package monitoring

import (
	"context"
	"time"

	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/infrastructure/eventbus"
)

var _ service.CallObserver = (*Metrics)(nil)

// ObserveCall implements service.CallObserver: one latency sample and the
// token counters per backend call.
func (m *Metrics) ObserveCall(provider, model string, elapsed time.Duration, usage *service.TokenUsage, err error) {
	status := "ok"
	if err != nil {
		status = service.ClassifyError(err).String()
	}
	m.ProviderCalls.WithLabelValues(provider, model, status).Inc()
	m.ProviderLatency.WithLabelValues(provider, model).Observe(elapsed.Seconds())

	if usage == nil {
		return
	}
	add := func(kind string, n int) {
		if n > 0 {
			m.TokensTotal.WithLabelValues(provider, model, kind).Add(float64(n))
		}
	}
	add("prompt", usage.PromptTokens)
	add("completion", usage.CompletionTokens)
	add("cache_read", usage.CacheReadTokens)
	add("cache_creation", usage.CacheCreationTokens)
}

// Attach subscribes the collectors to dispatch and identity events. The
// returned function detaches them.
func (m *Metrics) Attach(bus eventbus.Bus, monitor *Monitor) func() {
	onDispatch := func(ctx context.Context, ev eventbus.Event) {
		p, ok := ev.Payload().(service.DispatchEvent)
		if !ok {
			return
		}
		m.DispatchTotal.WithLabelValues(p.AgentName, string(p.Outcome)).Inc()
		if monitor != nil {
			monitor.recordDispatch(p)
		}
	}
	onIdentity := func(ctx context.Context, ev eventbus.Event) {
		stage := "reserved"
		if ev.Type() == service.EventIdentityPublished {
			stage = "published"
		}
		m.IdentitiesTotal.WithLabelValues(stage).Inc()
	}

	unsubs := []func(){
		bus.Subscribe(service.EventDispatchReplied, onDispatch),
		bus.Subscribe(service.EventDispatchSkipped, onDispatch),
		bus.Subscribe(service.EventDispatchFailed, onDispatch),
		bus.Subscribe(service.EventIdentityReserved, onIdentity),
		bus.Subscribe(service.EventIdentityPublished, onIdentity),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
