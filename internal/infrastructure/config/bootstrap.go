package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "agentcore"

// EnvPrefix 环境变量前缀
const EnvPrefix = "AGENTCORE"

var envReplacer = strings.NewReplacer(".", "_")

// HomeDir returns the configuration home: ~/.agentcore
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures root exists with a starter config.yaml. Existing files are
// never overwritten. An empty root selects HomeDir().
func Bootstrap(root string, logger *zap.Logger) (string, error) {
	if root == "" {
		root = HomeDir()
	}

	for _, dir := range []string{root, filepath.Join(root, "data")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	path := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		logger.Debug("Config already present", zap.String("path", path))
		return path, nil
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	logger.Info("Bootstrap complete", zap.String("home", root), zap.String("config", path))
	return path, nil
}

const defaultConfig = `# agentcore configuration
log:
  level: info
  format: console

store:
  type: file          # file | sqlite | postgres | redis | memory
  dir: ~/.agentcore/data

identities_file: ~/.agentcore/identities.yaml

default_provider: claude
providers:
  claude:
    provider: anthropic
    model: claude-sonnet-4-5
    api_key: ""       # or AGENTCORE_PROVIDERS_CLAUDE_API_KEY
    max_tokens: 4096
    context_window: 200000
  local:
    provider: openai
    model: llama3
    base_url: http://localhost:11434/v1
    api_key: ollama
    enable_caching: false

agents:
  helper:
    role: a helpful AI agent
    instructions: Answer concisely.

dispatch:
  provider_timeout: 2m
  max_inflight_per_agent: 4
  reserve_tokens: 1000
  retention_max_age: 720h
  cleanup_interval: 1h

http:
  enabled: true
  host: 127.0.0.1
  port: 18790

nats:
  enabled: false
  url: nats://127.0.0.1:4222
`
