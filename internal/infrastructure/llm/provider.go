package llm

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
)

// Provider is one backend adapter instance. It serves a fixed
// (kind, model, endpoint, caching) combination; credentials and call
// parameters are read from the config passed to each call.
type Provider interface {
	service.LLMClient

	// Kind returns the backend family.
	Kind() valueobject.ProviderKind

	// Endpoint returns the base URL requests are sent to.
	Endpoint() string
}

// Constructor builds a Provider for a configuration.
type Constructor func(cfg valueobject.ProviderConfig, client *http.Client, logger *zap.Logger) Provider

// Backends maps each backend family to its constructor.
type Backends map[valueobject.ProviderKind]Constructor

// FactoryOptions tunes the factory.
type FactoryOptions struct {
	// HTTPClient is shared by every adapter. Nil selects NewHTTPClient().
	HTTPClient *http.Client
	// FailureThreshold and RecoveryTimeout configure the per-endpoint circuit breakers.
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

type instanceKey struct {
	kind    valueobject.ProviderKind
	model   string
	baseURL string
	caching bool
}

// Factory resolves provider configurations to cached, breaker-guarded adapters.
type Factory struct {
	backends Backends
	opts     FactoryOptions
	client   *http.Client
	logger   *zap.Logger

	mu        sync.Mutex
	instances map[instanceKey]*guardedClient
	breakers  map[string]*CircuitBreaker // kind|endpoint
}

var _ service.ProviderResolver = (*Factory)(nil)

// NewFactory creates a Factory over the given backends.
func NewFactory(backends Backends, opts FactoryOptions, logger *zap.Logger) *Factory {
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	return &Factory{
		backends:  backends,
		opts:      opts,
		client:    client,
		logger:    logger.With(zap.String("component", "llm-factory")),
		instances: make(map[instanceKey]*guardedClient),
		breakers:  make(map[string]*CircuitBreaker),
	}
}

// ClientFor implements service.ProviderResolver. Identical
// (kind, model, endpoint, caching) tuples share one adapter instance.
func (f *Factory) ClientFor(cfg valueobject.ProviderConfig) (service.LLMClient, error) {
	kind := cfg.Kind()
	key := instanceKey{kind: kind, model: cfg.Model, baseURL: cfg.BaseURL, caching: cfg.CachingEnabled()}

	f.mu.Lock()
	defer f.mu.Unlock()

	if inst, ok := f.instances[key]; ok {
		return inst, nil
	}

	ctor, ok := f.backends[kind]
	if !ok {
		// Unrecognized backends are served as OpenAI-compatible.
		ctor, ok = f.backends[valueobject.ProviderOpenAI]
	}
	if !ok {
		return nil, fmt.Errorf("no backend registered for provider %q", cfg.Provider)
	}

	p := ctor(cfg, f.client, f.logger)
	breakerKey := string(p.Kind()) + "|" + p.Endpoint()
	cb, ok := f.breakers[breakerKey]
	if !ok {
		cb = NewCircuitBreaker(f.opts.FailureThreshold, f.opts.RecoveryTimeout)
		f.breakers[breakerKey] = cb
	}

	inst := newGuardedClient(p, cfg.Model, cb, f.logger)
	f.instances[key] = inst

	f.logger.Info("Provider adapter created",
		zap.String("kind", string(p.Kind())),
		zap.String("model", cfg.Model),
		zap.String("endpoint", p.Endpoint()),
		zap.Bool("caching", cfg.CachingEnabled()),
	)
	return inst, nil
}

// ResetCircuits closes every endpoint breaker, e.g. after provider
// configurations were reloaded with new credentials.
func (f *Factory) ResetCircuits() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cb := range f.breakers {
		cb.Reset()
	}
}

// Len returns the number of cached adapter instances.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

// Status reports every cached adapter, ordered by endpoint and model.
func (f *Factory) Status() []ProviderStatus {
	f.mu.Lock()
	instances := make([]*guardedClient, 0, len(f.instances))
	for _, inst := range f.instances {
		instances = append(instances, inst)
	}
	f.mu.Unlock()

	out := make([]ProviderStatus, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Endpoint != out[j].Endpoint {
			return out[i].Endpoint < out[j].Endpoint
		}
		return out[i].Model < out[j].Model
	})
	return out
}
