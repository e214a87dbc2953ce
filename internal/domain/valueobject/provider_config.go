package valueobject

import (
	"fmt"
	"strings"
)

// ProviderKind 后端族类，决定请求序列化与缓存标记方式
type ProviderKind string

const (
	// ProviderAnthropic: system 独立于消息列表，按消息段标记缓存
	ProviderAnthropic ProviderKind = "anthropic"
	// ProviderOpenAI: 扁平消息列表，无缓存标记；未知的 OpenAI 兼容后端也走这里
	ProviderOpenAI ProviderKind = "openai"
	// ProviderOpenRouter: 与 Anthropic 相同的分段方式，且 system 段可标记缓存
	ProviderOpenRouter ProviderKind = "openrouter"
)

// ParseProviderKind maps a configured provider identifier onto a backend family.
// Unrecognized identifiers are treated as OpenAI-compatible.
func ParseProviderKind(s string) ProviderKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anthropic", "claude":
		return ProviderAnthropic
	case "openrouter":
		return ProviderOpenRouter
	default:
		return ProviderOpenAI
	}
}

// SupportsCaching 是否支持缓存标记
func (k ProviderKind) SupportsCaching() bool {
	return k == ProviderAnthropic || k == ProviderOpenRouter
}

// ProviderConfig 命名的后端调用参数
type ProviderConfig struct {
	Name          string         `mapstructure:"-" yaml:"-" json:"name"`
	Provider      string         `mapstructure:"provider" yaml:"provider" json:"provider"`
	Model         string         `mapstructure:"model" yaml:"model" json:"model"`
	APIKey        string         `mapstructure:"api_key" yaml:"api_key" json:"-"`
	BaseURL       string         `mapstructure:"base_url" yaml:"base_url" json:"base_url,omitempty"`
	Temperature   *float64       `mapstructure:"temperature" yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens     int            `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	ContextWindow int            `mapstructure:"context_window" yaml:"context_window" json:"context_window"`
	EnableCaching *bool          `mapstructure:"enable_caching" yaml:"enable_caching" json:"enable_caching,omitempty"`
	Extra         map[string]any `mapstructure:"extra" yaml:"extra" json:"extra,omitempty"`
}

// 默认值
const (
	DefaultMaxTokens     = 4096
	DefaultContextWindow = 128000
	DefaultTemperature   = 0.7
)

// Kind returns the backend family for this configuration.
func (c ProviderConfig) Kind() ProviderKind {
	return ParseProviderKind(c.Provider)
}

// CachingEnabled reports whether prompt caching is on. Caching is on unless
// explicitly disabled.
func (c ProviderConfig) CachingEnabled() bool {
	return c.EnableCaching == nil || *c.EnableCaching
}

// WithDefaults 返回填充了默认值的副本
func (c ProviderConfig) WithDefaults() ProviderConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = DefaultContextWindow
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	return c
}

// Float64 returns a pointer to v, for optional fields such as Temperature.
func Float64(v float64) *float64 { return &v }

// Validate checks the fields needed to build an adapter. A missing API key is
// reported by the adapter itself, before any network call.
func (c ProviderConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("provider config %q: model is required", c.Name)
	}
	if c.MaxTokens < 0 || c.ContextWindow < 0 {
		return fmt.Errorf("provider config %q: token limits must not be negative", c.Name)
	}
	if c.Temperature != nil && *c.Temperature < 0 {
		return fmt.Errorf("provider config %q: temperature must not be negative", c.Name)
	}
	return nil
}

// String 返回 provider/model 形式的名称
func (c ProviderConfig) String() string {
	return string(c.Kind()) + "/" + c.Model
}
