package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Type != "file" || cfg.Dispatch.ReserveTokens != 1000 || cfg.Dispatch.ProviderTimeout != 2*time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.HTTP.Addr() != "127.0.0.1:18790" {
		t.Errorf("addr = %s", cfg.HTTP.Addr())
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
default_provider: claude
providers:
  claude:
    provider: anthropic
    model: claude-sonnet-4-5
    api_key: sk-file
    enable_caching: false
    extra:
      top_k: 5
agents:
  helper:
    role: a helper
    default_provider: claude
dispatch:
  max_inflight_per_agent: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	claude, ok := cfg.Providers["claude"]
	if !ok || claude.APIKey != "sk-file" || claude.Model != "claude-sonnet-4-5" {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	if claude.CachingEnabled() {
		t.Error("enable_caching: false not honored")
	}
	if claude.Extra["top_k"] != 5 {
		t.Errorf("extra = %v", claude.Extra)
	}
	helper := cfg.Agents["helper"]
	if helper.Role != "a helper" || helper.DefaultProvider != "claude" {
		t.Errorf("agent = %+v", helper)
	}
	if cfg.Dispatch.MaxInflightPerAgent != 2 {
		t.Errorf("max inflight = %d", cfg.Dispatch.MaxInflightPerAgent)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AGENTCORE_STORE_TYPE", "memory")
	path := writeConfig(t, "store:\n  type: file\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("store type = %s, want env override", cfg.Store.Type)
	}
}

func TestBootstrap(t *testing.T) {
	root := filepath.Join(t.TempDir(), "home")
	path, err := Bootstrap(root, zap.NewNop())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600)
	if _, err := Bootstrap(root, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "log:\n  level: debug\n" {
		t.Error("Bootstrap must not overwrite an existing config")
	}

	cfg, err := Load(path)
	if err != nil || cfg.Log.Level != "debug" {
		t.Fatalf("cfg = %+v, err = %v", cfg, err)
	}
}

func TestBootstrap_DefaultConfigParses(t *testing.T) {
	path, err := Bootstrap(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "claude" || len(cfg.Providers) != 2 || cfg.Agents["helper"].Role == "" {
		t.Errorf("starter config = %+v", cfg)
	}
}
