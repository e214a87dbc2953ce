package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

func TestResolveAgent_NoDuplicateIdentities(t *testing.T) {
	h := newHarness(DefaultAgentOptions())

	var wg sync.WaitGroup
	agents := make([]*Agent, 20)
	for i := range agents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := h.registry.ResolveAgent(context.Background(), "coder")
			if err != nil {
				t.Errorf("ResolveAgent: %v", err)
				return
			}
			agents[i] = a
		}(i)
	}
	wg.Wait()

	for _, a := range agents[1:] {
		if a != agents[0] {
			t.Fatal("ResolveAgent returned different agents for the same name")
		}
	}
	if h.identities.saves != 1 {
		t.Errorf("identity saved %d times, want 1", h.identities.saves)
	}
	if !h.registry.IsAgentAuthor(agents[0].Identity().PublicKey) {
		t.Error("new agent's public key should be a known author")
	}
}

func TestResolveAgent_ReusesPersistedIdentity(t *testing.T) {
	h := newHarness(DefaultAgentOptions())
	identity, _ := entity.GenerateIdentity("archivist", time.Now())
	identity.Published = true
	_ = h.identities.Save(context.Background(), identity)

	agent, err := h.registry.ResolveAgent(context.Background(), "archivist")
	if err != nil {
		t.Fatalf("ResolveAgent: %v", err)
	}
	if agent.Identity().PublicKey != identity.PublicKey {
		t.Error("persisted identity was not reused")
	}
	if h.identities.saves != 1 {
		t.Errorf("saves = %d, want 1", h.identities.saves)
	}
}

func TestResolveAgent_PublishesAsynchronously(t *testing.T) {
	h := newHarness(DefaultAgentOptions())
	if _, err := h.registry.ResolveAgent(context.Background(), "herald"); err != nil {
		t.Fatalf("ResolveAgent: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if id, _ := h.identities.Find(context.Background(), "herald"); id != nil && id.Published {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("identity was never marked published")
}

func TestRetryPendingPublications(t *testing.T) {
	h := newHarness(DefaultAgentOptions())
	ctx := context.Background()

	pending, _ := entity.GenerateIdentity("pending", time.Now())
	done, _ := entity.GenerateIdentity("done", time.Now())
	done.Published = true
	_ = h.identities.Save(ctx, pending)
	_ = h.identities.Save(ctx, done)

	n, err := h.registry.RetryPendingPublications(ctx)
	if err != nil {
		t.Fatalf("RetryPendingPublications: %v", err)
	}
	if n != 1 {
		t.Errorf("published %d, want 1", n)
	}
	if got, _ := h.identities.Find(ctx, "pending"); !got.Published {
		t.Error("pending identity should now be published")
	}
}

func TestRetryPendingPublications_FailureKeepsIdentity(t *testing.T) {
	h := newHarness(DefaultAgentOptions())
	ctx := context.Background()
	h.publisher.err = errors.New("offline")

	if _, err := h.registry.ResolveAgent(ctx, "quiet"); err != nil {
		t.Fatalf("ResolveAgent: %v", err)
	}
	n, _ := h.registry.RetryPendingPublications(ctx)
	if n != 0 {
		t.Errorf("published %d, want 0", n)
	}
	got, err := h.identities.Find(ctx, "quiet")
	if err != nil || got.Published {
		t.Errorf("identity should stay registered and unpublished: %+v, %v", got, err)
	}
}

func TestResolveProviderConfig_Precedence(t *testing.T) {
	reg := NewRegistry(DefaultAgentOptions(), RegistryDeps{Identities: newFakeIdentities()})
	reg.ReplaceProviderConfigs(map[string]valueobject.ProviderConfig{
		"b-default": {Model: "default-model"},
		"a-first":   {Model: "first-model"},
		"agent":     {Model: "agent-model"},
		"explicit":  {Model: "explicit-model"},
	}, "b-default")

	identity, _ := entity.GenerateIdentity("x", time.Now())
	withDefault := NewAgent(identity, entity.AgentProfile{}, "agent", DefaultAgentOptions(), AgentDeps{})
	noDefault := NewAgent(identity, entity.AgentProfile{}, "", DefaultAgentOptions(), AgentDeps{})

	tests := []struct {
		name     string
		explicit string
		agent    *Agent
		want     string
	}{
		{"explicit", "explicit", withDefault, "explicit-model"},
		{"agent default", "", withDefault, "agent-model"},
		{"unknown explicit falls through", "missing", withDefault, "agent-model"},
		{"registry default", "", noDefault, "default-model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := reg.ResolveProviderConfig(tt.explicit, tt.agent)
			if err != nil {
				t.Fatalf("ResolveProviderConfig: %v", err)
			}
			if cfg.Model != tt.want {
				t.Errorf("model = %s, want %s", cfg.Model, tt.want)
			}
		})
	}

	reg.ReplaceProviderConfigs(map[string]valueobject.ProviderConfig{
		"z": {Model: "z-model"},
		"a": {Model: "a-model"},
	}, "")
	cfg, err := reg.ResolveProviderConfig("", noDefault)
	if err != nil || cfg.Model != "a-model" {
		t.Errorf("first available = %+v, %v", cfg, err)
	}
	if cfg.Name != "a" || cfg.ContextWindow != valueobject.DefaultContextWindow {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	reg.ReplaceProviderConfigs(nil, "")
	_, err = reg.ResolveProviderConfig("", noDefault)
	if !errors.Is(err, ErrNoProviderConfig) || !apperrors.IsConfiguration(err) {
		t.Errorf("err = %v, want ErrNoProviderConfig", err)
	}
}

func TestLoadAgents(t *testing.T) {
	h := newHarness(DefaultAgentOptions())
	ctx := context.Background()

	seeded, _ := entity.GenerateIdentity("seeded", time.Now())
	leftover, _ := entity.GenerateIdentity("leftover", time.Now())
	leftover.Published = true
	_ = h.identities.Save(ctx, leftover)

	err := h.registry.LoadAgents(ctx, map[string]AgentSettings{
		"seeded": {Secret: seeded.SecretKey, DefaultProvider: "main", Profile: entity.AgentProfile{Role: "a seed"}},
		"fresh":  {},
	})
	if err != nil {
		t.Fatalf("LoadAgents: %v", err)
	}

	agent, ok := h.registry.Agent("seeded")
	if !ok || agent.Identity().PublicKey != seeded.PublicKey {
		t.Fatal("configured secret not used for seeded agent")
	}
	if agent.DefaultProvider() != "main" || agent.Profile().Role != "a seed" {
		t.Errorf("settings not applied: %q %+v", agent.DefaultProvider(), agent.Profile())
	}
	if _, ok := h.registry.Agent("fresh"); !ok {
		t.Error("fresh agent not created")
	}
	if !h.registry.IsAgentAuthor(leftover.PublicKey) {
		t.Error("persisted identities must count as agent authors")
	}
	if len(h.registry.Agents()) != 3 {
		t.Errorf("agents = %d, want 3", len(h.registry.Agents()))
	}

	err = h.registry.LoadAgents(ctx, map[string]AgentSettings{"bad": {Secret: "nothex"}})
	if !apperrors.IsConfiguration(err) {
		t.Errorf("bad secret err = %v", err)
	}
}

func TestReplaceProviderConfigs_KeepsExplicitZeroTemperature(t *testing.T) {
	reg := NewRegistry(DefaultAgentOptions(), RegistryDeps{Identities: newFakeIdentities()})
	reg.ReplaceProviderConfigs(map[string]valueobject.ProviderConfig{
		"det":   {Model: "m", Temperature: valueobject.Float64(0)},
		"unset": {Model: "m"},
	}, "det")

	cfg, err := reg.ResolveProviderConfig("det", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Errorf("configured temperature 0 resolved as %v", cfg.Temperature)
	}
	cfg, _ = reg.ResolveProviderConfig("unset", nil)
	if cfg.Temperature == nil || *cfg.Temperature != valueobject.DefaultTemperature {
		t.Errorf("unset temperature = %v, want default", cfg.Temperature)
	}
}

func TestReplaceProviderConfigs_SkipsInvalidEntries(t *testing.T) {
	reg := NewRegistry(DefaultAgentOptions(), RegistryDeps{Identities: newFakeIdentities()})
	reg.ReplaceProviderConfigs(map[string]valueobject.ProviderConfig{
		"main":     {Model: "good-model"},
		"no-model": {Provider: "openai"},
		"negative": {Model: "m", MaxTokens: -1},
	}, "main")

	names := reg.ProviderNames()
	if len(names) != 1 || names[0] != "main" {
		t.Fatalf("providers = %v, want [main]", names)
	}

	// A broken reload keeps the last valid entry under the same name.
	reg.ReplaceProviderConfigs(map[string]valueobject.ProviderConfig{
		"main": {Model: ""},
		"new":  {Model: "new-model"},
	}, "main")
	cfg, err := reg.ResolveProviderConfig("main", nil)
	if err != nil || cfg.Model != "good-model" {
		t.Errorf("main after invalid reload = %+v, %v", cfg, err)
	}
	if names := reg.ProviderNames(); len(names) != 2 {
		t.Errorf("providers after reload = %v", names)
	}
}

func TestRegistry_FoldsNameCase(t *testing.T) {
	h := newHarness(DefaultAgentOptions())
	ctx := context.Background()
	h.registry.ReplaceProviderConfigs(map[string]valueobject.ProviderConfig{
		"Fast": {Model: "fast-model"},
	}, "")

	if err := h.registry.LoadAgents(ctx, map[string]AgentSettings{
		"Coder": {DefaultProvider: "FAST"},
	}); err != nil {
		t.Fatalf("LoadAgents: %v", err)
	}
	configured, ok := h.registry.Agent("coder")
	if !ok {
		t.Fatal("configured agent not registered under its folded slug")
	}
	resolved, err := h.registry.ResolveAgent(ctx, " Coder ")
	if err != nil || resolved != configured {
		t.Fatalf("ResolveAgent(Coder) = %v, %v; want the configured agent", resolved, err)
	}
	cfg, err := h.registry.ResolveProviderConfig("", resolved)
	if err != nil || cfg.Model != "fast-model" {
		t.Errorf("agent default provider = %+v, %v", cfg, err)
	}
}

func TestResolveAgent_RejectsUnsafeNames(t *testing.T) {
	h := newHarness(DefaultAgentOptions())
	for _, name := range []string{"", "   ", ".", "..", "a/b", `a\b`, "tab\there"} {
		if _, err := h.registry.ResolveAgent(context.Background(), name); !errors.Is(err, entity.ErrInvalidAgentName) {
			t.Errorf("ResolveAgent(%q) err = %v, want ErrInvalidAgentName", name, err)
		}
	}
	if h.identities.saves != 0 {
		t.Errorf("identities saved for invalid names: %d", h.identities.saves)
	}
}
