package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
)

// Config 应用配置
type Config struct {
	Log             LogConfig                             `mapstructure:"log"`
	Store           StoreConfig                           `mapstructure:"store"`
	IdentitiesFile  string                                `mapstructure:"identities_file"`
	Providers       map[string]valueobject.ProviderConfig `mapstructure:"providers"`
	DefaultProvider string                                `mapstructure:"default_provider"`
	Agents          map[string]AgentConfig                `mapstructure:"agents"`
	Dispatch        DispatchConfig                        `mapstructure:"dispatch"`
	LLM             LLMConfig                             `mapstructure:"llm"`
	HTTP            HTTPConfig                            `mapstructure:"http"`
	NATS            NATSConfig                            `mapstructure:"nats"`
	Events          EventsConfig                          `mapstructure:"events"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// StoreConfig 存储配置
type StoreConfig struct {
	Type     string `mapstructure:"type"` // file, sqlite, postgres, redis, memory
	Dir      string `mapstructure:"dir"`
	DSN      string `mapstructure:"dsn"`
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"` // redis key prefix
}

// AgentConfig 单个代理配置（slug → 人设与默认 provider）
type AgentConfig struct {
	entity.AgentProfile `mapstructure:",squash"`
	DefaultProvider     string `mapstructure:"default_provider"`
	Secret              string `mapstructure:"secret"` // hex Ed25519 seed, optional
}

// DispatchConfig 分发参数
type DispatchConfig struct {
	ProviderTimeout     time.Duration `mapstructure:"provider_timeout"`
	MaxInflightPerAgent int           `mapstructure:"max_inflight_per_agent"`
	ReserveTokens       int           `mapstructure:"reserve_tokens"`
	RetentionMaxAge     time.Duration `mapstructure:"retention_max_age"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
}

// LLMConfig 熔断参数
type LLMConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// HTTPConfig HTTP 接口配置
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"` // debug, release
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EventsConfig 事件日志配置。JournalDir 为空时只使用内存总线
type EventsConfig struct {
	JournalDir string `mapstructure:"journal_dir"`
	MaxSize    int64  `mapstructure:"max_size"`
}

// NATSConfig NATS 桥接配置
type NATSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	InboundSubject  string `mapstructure:"inbound_subject"`
	ReplySubject    string `mapstructure:"reply_subject"`
	IdentitySubject string `mapstructure:"identity_subject"`
	QueueGroup      string `mapstructure:"queue_group"`
}

// Loader 持有 viper 实例，支持热重载
type Loader struct {
	v *viper.Viper
}

// NewLoader 创建加载器。path 为空时按 ./config.yaml → ~/.agentcore/config.yaml 查找
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(HomeDir())
	}

	// 环境变量覆盖: AGENTCORE_STORE_TYPE=redis
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Load 读取并解析配置；找不到配置文件时使用默认值
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

// ConfigFile returns the file in use, empty when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch 监听配置文件变化，每次变更后回调解析结果
func (l *Loader) Watch(onChange func(*Config, fsnotify.Event), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg, e)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.IdentitiesFile = expandHome(cfg.IdentitiesFile)
	cfg.Store.Dir = expandHome(cfg.Store.Dir)
	cfg.Events.JournalDir = expandHome(cfg.Events.JournalDir)
	return &cfg, nil
}

// Load 加载配置（便捷函数）
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stderr")

	// Store 默认值
	v.SetDefault("store.type", "file")
	v.SetDefault("store.dir", filepath.Join(HomeDir(), "data"))
	v.SetDefault("store.dsn", filepath.Join(HomeDir(), "agentcore.db"))
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.prefix", AppName)
	v.SetDefault("identities_file", filepath.Join(HomeDir(), "identities.yaml"))

	// Dispatch 默认值
	v.SetDefault("dispatch.provider_timeout", "2m")
	v.SetDefault("dispatch.max_inflight_per_agent", 4)
	v.SetDefault("dispatch.reserve_tokens", 1000)
	v.SetDefault("dispatch.retention_max_age", "720h")
	v.SetDefault("dispatch.cleanup_interval", "1h")

	// LLM 熔断默认值
	v.SetDefault("llm.failure_threshold", 5)
	v.SetDefault("llm.recovery_timeout", "30s")

	// HTTP 默认值
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 18790)
	v.SetDefault("http.mode", "release")

	// Events 默认值
	v.SetDefault("events.journal_dir", filepath.Join(HomeDir(), "events"))
	v.SetDefault("events.max_size", 10*1024*1024)

	// NATS 默认值
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.inbound_subject", "agentcore.inbound")
	v.SetDefault("nats.reply_subject", "agentcore.replies")
	v.SetDefault("nats.identity_subject", "agentcore.identities")
	v.SetDefault("nats.queue_group", AppName)
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
