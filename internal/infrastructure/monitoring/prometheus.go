package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentcore"

// Metrics holds all Prometheus collectors. Each Metrics owns its registry,
// so tests and multiple instances never collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	DispatchTotal     *prometheus.CounterVec   // agent, outcome
	ProviderCalls     *prometheus.CounterVec   // provider, model, status
	ProviderLatency   *prometheus.HistogramVec // provider, model
	TokensTotal       *prometheus.CounterVec   // provider, model, kind
	IdentitiesTotal   *prometheus.CounterVec   // stage
	ConversationsLive prometheus.Gauge
	RetentionRemoved  prometheus.Counter
}

// NewMetrics creates and registers all collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Inbound messages handled, by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),

		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Language-model backend calls, by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of language-model backend calls in seconds",
				Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by backends, by kind (prompt, completion, cache_read, cache_creation)",
			},
			[]string{"provider", "model", "kind"},
		),

		IdentitiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identities_total",
				Help:      "Agent identity lifecycle events, by stage",
			},
			[]string{"stage"},
		),

		ConversationsLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "conversations_live",
				Help:      "Conversations currently held in memory",
			},
		),

		RetentionRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_removed_total",
				Help:      "Conversations deleted by the retention sweep",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format. Mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
