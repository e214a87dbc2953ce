package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
	"github.com/ngoclaw/agentcore/pkg/safego"
)

// ErrNoProviderConfig is returned when no provider configuration can serve a dispatch.
var ErrNoProviderConfig = apperrors.NewConfigurationError("no usable provider configuration")

// AgentSettings 单个代理的配置覆盖
type AgentSettings struct {
	Profile         entity.AgentProfile
	DefaultProvider string
	// Secret is hex-encoded identity seed material. Empty means the identity
	// is generated on first use.
	Secret string
}

// RegistryDeps are the collaborators of a Registry.
type RegistryDeps struct {
	Identities        repository.IdentityRepository
	IdentityPublisher IdentityPublisher
	Agent             AgentDeps
	Events            EventEmitter
	Logger            *zap.Logger
}

// Registry owns every Agent and provider configuration. It is built once at
// startup and passed to the Dispatcher.
type Registry struct {
	identities repository.IdentityRepository
	publisher  IdentityPublisher
	agentDeps  AgentDeps
	agentOpts  AgentOptions
	events     EventEmitter
	logger     *zap.Logger

	reserve singleflight.Group

	mu              sync.RWMutex
	agents          map[string]*Agent
	authors         map[string]string // public key -> slug
	settings        map[string]AgentSettings
	providers       map[string]valueobject.ProviderConfig
	defaultProvider string
}

// NewRegistry 创建注册表
func NewRegistry(opts AgentOptions, deps RegistryDeps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = noopEmitter{}
	}
	if deps.Agent.Logger == nil {
		deps.Agent.Logger = deps.Logger
	}
	return &Registry{
		identities: deps.Identities,
		publisher:  deps.IdentityPublisher,
		agentDeps:  deps.Agent,
		agentOpts:  opts,
		events:     deps.Events,
		logger:     deps.Logger.With(zap.String("component", "registry")),
		agents:     make(map[string]*Agent),
		authors:    make(map[string]string),
		settings:   make(map[string]AgentSettings),
		providers:  make(map[string]valueobject.ProviderConfig),
	}
}

// ReplaceProviderConfigs swaps the provider table atomically. Live agents pick
// up the new table on their next dispatch. Names are case-folded like agent
// slugs. An invalid entry is skipped; if the previous table had a valid entry
// under the same name, that one is kept.
func (r *Registry) ReplaceProviderConfigs(configs map[string]valueobject.ProviderConfig, defaultName string) {
	r.mu.RLock()
	previous := r.providers
	r.mu.RUnlock()

	table := make(map[string]valueobject.ProviderConfig, len(configs))
	for rawName, cfg := range configs {
		name := entity.NormalizeSlug(rawName)
		cfg.Name = name
		if err := cfg.Validate(); err != nil {
			if prev, ok := previous[name]; ok {
				table[name] = prev
				r.logger.Warn("Invalid provider configuration, keeping previous", zap.Error(err))
			} else {
				r.logger.Warn("Invalid provider configuration skipped", zap.Error(err))
			}
			continue
		}
		table[name] = cfg.WithDefaults()
	}
	defaultName = entity.NormalizeSlug(defaultName)

	r.mu.Lock()
	r.providers = table
	r.defaultProvider = defaultName
	r.mu.Unlock()

	r.logger.Info("Provider configurations loaded",
		zap.Int("count", len(table)),
		zap.String("default", defaultName),
	)
}

// ProviderNames 返回按名称排序的 provider 配置名
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providerNamesLocked()
}

func (r *Registry) providerNamesLocked() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveProviderConfig picks a configuration in order: explicit name, the
// agent's default, the registry default, then the first by name.
func (r *Registry) ResolveProviderConfig(explicit string, agent *Agent) (valueobject.ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := []string{explicit}
	if agent != nil {
		candidates = append(candidates, agent.DefaultProvider())
	}
	candidates = append(candidates, r.defaultProvider)

	for i, name := range candidates {
		name = entity.NormalizeSlug(name)
		if name == "" {
			continue
		}
		if cfg, ok := r.providers[name]; ok {
			return cfg, nil
		}
		if i == 0 {
			r.logger.Warn("Requested provider configuration not found, falling back",
				zap.String("provider_config", name))
		}
	}

	if names := r.providerNamesLocked(); len(names) > 0 {
		return r.providers[names[0]], nil
	}
	return valueobject.ProviderConfig{}, ErrNoProviderConfig
}

// LoadAgents registers configured agents. Agents with secret material get
// that identity; the rest reuse a persisted identity or get one generated.
// Every persisted identity is registered so loop prevention knows its author.
func (r *Registry) LoadAgents(ctx context.Context, configured map[string]AgentSettings) error {
	settings := make(map[string]AgentSettings, len(configured))
	for slug, s := range configured {
		slug = entity.NormalizeSlug(slug)
		if err := entity.ValidateSlug(slug); err != nil {
			return apperrors.NewConfigurationError(err.Error())
		}
		s.DefaultProvider = entity.NormalizeSlug(s.DefaultProvider)
		settings[slug] = s
	}

	r.mu.Lock()
	for slug, s := range settings {
		r.settings[slug] = s
	}
	r.mu.Unlock()

	for slug, s := range settings {
		if s.Secret == "" {
			continue
		}
		identity, err := entity.IdentityFromSecret(slug, s.Secret)
		if err != nil {
			return apperrors.NewConfigurationError("invalid secret for agent " + slug + ": " + err.Error())
		}
		if _, err := r.identities.Find(ctx, slug); apperrors.IsNotFound(err) {
			identity.CreatedAt = time.Now()
			if err := r.identities.Save(ctx, identity); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		r.register(identity)
	}

	existing, err := r.identities.FindAll(ctx)
	if err != nil {
		return err
	}
	for _, identity := range existing {
		r.mu.RLock()
		_, ok := r.agents[identity.Slug]
		r.mu.RUnlock()
		if !ok {
			r.register(identity)
		}
	}

	for slug := range settings {
		if _, err := r.ResolveAgent(ctx, slug); err != nil {
			return err
		}
	}
	return nil
}

// register builds the live Agent for identity.
func (r *Registry) register(identity *entity.Identity) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, ok := r.agents[identity.Slug]; ok {
		return agent
	}
	s := r.settings[identity.Slug]
	agent := NewAgent(identity, s.Profile, s.DefaultProvider, r.agentOpts, r.agentDeps)
	r.agents[identity.Slug] = agent
	r.authors[identity.PublicKey] = identity.Slug
	return agent
}

// Agent returns a registered agent without creating one.
func (r *Registry) Agent(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[entity.NormalizeSlug(name)]
	return agent, ok
}

// Agents 返回按名称排序的全部代理
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// IsAgentAuthor reports whether pubkey belongs to any known agent.
func (r *Registry) IsAgentAuthor(pubkey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.authors[pubkey]
	return ok
}

// ResolveAgent returns the agent for name, reserving a new identity if none
// exists. Reservation persists the identity before returning; publication
// runs in the background and is retried by RetryPendingPublications.
func (r *Registry) ResolveAgent(ctx context.Context, name string) (*Agent, error) {
	name = entity.NormalizeSlug(name)
	if err := entity.ValidateSlug(name); err != nil {
		return nil, err
	}
	if agent, ok := r.Agent(name); ok {
		return agent, nil
	}

	v, err, _ := r.reserve.Do(name, func() (any, error) {
		if agent, ok := r.Agent(name); ok {
			return agent, nil
		}

		identity, err := r.identities.Find(ctx, name)
		if err == nil {
			return r.register(identity), nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}

		identity, err = entity.GenerateIdentity(name, time.Now())
		if err != nil {
			return nil, err
		}
		if err := r.identities.Save(ctx, identity); err != nil {
			return nil, err
		}
		agent := r.register(identity)

		r.logger.Info("Agent identity reserved",
			zap.String("agent", name),
			zap.String("public_key", identity.PublicKey),
		)
		r.events.Emit(ctx, EventIdentityReserved, IdentityEvent{Slug: name, PublicKey: identity.PublicKey})

		r.publishAsync(identity, agent.Profile())
		return agent, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Agent), nil
}

func (r *Registry) publishAsync(identity *entity.Identity, profile entity.AgentProfile) {
	if r.publisher == nil {
		return
	}
	safego.Go(r.logger, "identity-publish", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.publish(ctx, identity, profile); err != nil {
			r.logger.Warn("Identity publication failed, will retry at next startup",
				zap.String("agent", identity.Slug),
				zap.Error(err),
			)
		}
	})
}

func (r *Registry) publish(ctx context.Context, identity *entity.Identity, profile entity.AgentProfile) error {
	if err := r.publisher.PublishIdentity(ctx, identity, profile); err != nil {
		return err
	}
	if err := r.identities.MarkPublished(ctx, identity.Slug); err != nil {
		return err
	}
	r.events.Emit(ctx, EventIdentityPublished, IdentityEvent{Slug: identity.Slug, PublicKey: identity.PublicKey})
	return nil
}

// RetryPendingPublications publishes every persisted identity not yet marked
// published. It returns the number published.
func (r *Registry) RetryPendingPublications(ctx context.Context) (int, error) {
	if r.publisher == nil {
		return 0, nil
	}
	all, err := r.identities.FindAll(ctx)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, identity := range all {
		if identity.Published {
			continue
		}
		r.mu.RLock()
		profile := r.settings[identity.Slug].Profile
		r.mu.RUnlock()

		if err := r.publish(ctx, identity, profile); err != nil {
			r.logger.Warn("Identity publication retry failed",
				zap.String("agent", identity.Slug),
				zap.Error(err),
			)
			continue
		}
		published++
	}
	return published, nil
}
