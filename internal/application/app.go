package application

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/domain/service"
	"github.com/ngoclaw/agentcore/internal/domain/valueobject"
	"github.com/ngoclaw/agentcore/internal/infrastructure/config"
	"github.com/ngoclaw/agentcore/internal/infrastructure/eventbus"
	"github.com/ngoclaw/agentcore/internal/infrastructure/llm"
	"github.com/ngoclaw/agentcore/internal/infrastructure/llm/anthropic"
	"github.com/ngoclaw/agentcore/internal/infrastructure/llm/openai"
	"github.com/ngoclaw/agentcore/internal/infrastructure/llm/openrouter"
	"github.com/ngoclaw/agentcore/internal/infrastructure/monitoring"
	"github.com/ngoclaw/agentcore/internal/infrastructure/persistence"
	httpServer "github.com/ngoclaw/agentcore/internal/interfaces/http"
	"github.com/ngoclaw/agentcore/internal/interfaces/natsbridge"
	"github.com/ngoclaw/agentcore/internal/interfaces/stdio"
)

// Options 运行时选项（命令行与测试注入）
type Options struct {
	// Stdout receives JSON-lines replies and identity announcements when set.
	Stdout io.Writer
	// Backends overrides the backend constructors. Nil selects DefaultBackends().
	Backends llm.Backends
	// NATSConn replaces the dialed NATS connection when NATS is enabled.
	NATSConn natsbridge.Conn
}

// App 应用程序
type App struct {
	// 配置
	config *config.Config
	logger *zap.Logger
	opts   Options

	// 仓储层
	store      repository.Store
	identities repository.IdentityRepository

	// 基础设施
	bus     eventbus.Bus
	metrics *monitoring.Metrics
	monitor *monitoring.Monitor
	factory *llm.Factory
	detach  func()

	// 领域服务
	registry   *service.Registry
	dispatcher *service.Dispatcher

	// 接口层
	replyPublishers    []service.ReplyPublisher
	identityPublishers []service.IdentityPublisher
	stdout             *stdio.Writer
	natsBridge         *natsbridge.Bridge
	httpServer         *httpServer.Server

	// 后台任务
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DefaultBackends returns the built-in backend constructors.
func DefaultBackends() llm.Backends {
	return llm.Backends{
		valueobject.ProviderAnthropic:  anthropic.New,
		valueobject.ProviderOpenAI:     openai.New,
		valueobject.ProviderOpenRouter: openrouter.New,
	}
}

// NewApp 创建应用程序（依赖注入容器）
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
		opts:   opts,
	}

	// 初始化各层组件
	if err := app.initRepositories(ctx); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		app.closeRepositories()
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initTransports(); err != nil {
		app.closeInfrastructure()
		app.closeRepositories()
		return nil, fmt.Errorf("failed to init transports: %w", err)
	}

	if err := app.initDomainServices(ctx); err != nil {
		app.closeTransports()
		app.closeInfrastructure()
		app.closeRepositories()
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	app.initInterfaces()
	return app, nil
}

// NewAppCLI creates a lightweight app for CLI inspection commands.
// Only initializes the stores; no transports, backends or servers.
func NewAppCLI(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}
	if err := app.initRepositories(ctx); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	return app, nil
}

// initRepositories 初始化仓储层
func (app *App) initRepositories(ctx context.Context) error {
	store, err := persistence.NewStore(ctx, app.config.Store, app.logger)
	if err != nil {
		return err
	}

	identities, err := persistence.NewYAMLIdentityRepository(app.config.IdentitiesFile)
	if err != nil {
		store.Close()
		return err
	}

	app.store = store
	app.identities = identities
	app.logger.Info("Repositories initialized",
		zap.String("store", app.config.Store.Type),
		zap.String("identities", app.config.IdentitiesFile),
	)
	return nil
}

// initInfrastructure 初始化事件总线、监控与模型工厂
func (app *App) initInfrastructure() error {
	if dir := app.config.Events.JournalDir; dir != "" {
		bus, err := eventbus.NewPersistentBus(eventbus.PersistentBusConfig{
			Dir:     dir,
			MaxSize: app.config.Events.MaxSize,
		}, app.logger)
		if err != nil {
			return err
		}
		app.bus = bus
	} else {
		app.bus = eventbus.NewInMemoryBus(app.logger, 256)
	}

	app.metrics = monitoring.NewMetrics()
	app.monitor = monitoring.NewMonitor(50)
	app.detach = app.metrics.Attach(app.bus, app.monitor)

	backends := app.opts.Backends
	if backends == nil {
		backends = DefaultBackends()
	}
	app.factory = llm.NewFactory(backends, llm.FactoryOptions{
		FailureThreshold: app.config.LLM.FailureThreshold,
		RecoveryTimeout:  app.config.LLM.RecoveryTimeout,
	}, app.logger)
	return nil
}

// initTransports 初始化出站通道：stdout、NATS。都未配置时回复只写日志
func (app *App) initTransports() error {
	if app.opts.Stdout != nil {
		app.stdout = stdio.NewWriter(app.opts.Stdout)
		app.replyPublishers = append(app.replyPublishers, app.stdout)
		app.identityPublishers = append(app.identityPublishers, app.stdout)
	}

	if app.config.NATS.Enabled {
		conn := app.opts.NATSConn
		if conn == nil {
			nc, err := natsbridge.Connect(app.config.NATS.URL, app.logger)
			if err != nil {
				return err
			}
			conn = nc
		}
		app.natsBridge = natsbridge.New(conn, natsbridge.Config{
			InboundSubject:  app.config.NATS.InboundSubject,
			ReplySubject:    app.config.NATS.ReplySubject,
			IdentitySubject: app.config.NATS.IdentitySubject,
			QueueGroup:      app.config.NATS.QueueGroup,
		}, app.logger)
		app.replyPublishers = append(app.replyPublishers, app.natsBridge)
		app.identityPublishers = append(app.identityPublishers, app.natsBridge)
	}

	if len(app.replyPublishers) == 0 {
		app.replyPublishers = append(app.replyPublishers, newLogPublisher(app.logger))
	}
	return nil
}

// initDomainServices 初始化注册表、代理与分发器
func (app *App) initDomainServices(ctx context.Context) error {
	opts := service.AgentOptions{
		ProviderTimeout: app.config.Dispatch.ProviderTimeout,
		MaxInflight:     app.config.Dispatch.MaxInflightPerAgent,
		ReserveTokens:   app.config.Dispatch.ReserveTokens,
	}

	var identityPublisher service.IdentityPublisher
	if len(app.identityPublishers) > 0 {
		identityPublisher = identityFanout(app.identityPublishers)
	}

	app.registry = service.NewRegistry(opts, service.RegistryDeps{
		Identities:        app.identities,
		IdentityPublisher: identityPublisher,
		Agent: service.AgentDeps{
			Store:     app.store,
			Providers: app.factory,
			Observer:  app.metrics,
			Logger:    app.logger,
		},
		Events: app.bus,
		Logger: app.logger,
	})
	app.registry.ReplaceProviderConfigs(app.config.Providers, app.config.DefaultProvider)

	if err := app.registry.LoadAgents(ctx, agentSettings(app.config.Agents)); err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	app.dispatcher = service.NewDispatcher(service.DispatcherDeps{
		Registry:  app.registry,
		Processed: app.store,
		Publisher: replyFanout(app.replyPublishers),
		Events:    app.bus,
		Logger:    app.logger,
	})

	app.logger.Info("Domain services initialized",
		zap.Int("agents", len(app.registry.Agents())),
		zap.Strings("providers", app.registry.ProviderNames()),
	)
	return nil
}

// initInterfaces 初始化接口层
func (app *App) initInterfaces() {
	if !app.config.HTTP.Enabled {
		return
	}
	app.httpServer = httpServer.NewServer(httpServer.Config{
		Host: app.config.HTTP.Host,
		Port: app.config.HTTP.Port,
		Mode: app.config.HTTP.Mode,
	}, httpServer.Deps{
		Dispatcher:    app.dispatcher,
		Conversations: app.store,
		Agents:        app.registry,
		Providers:     app.factory,
		Monitor:       app.monitor,
		Metrics:       app.metrics.Handler(),
	}, app.logger)
}

func agentSettings(agents map[string]config.AgentConfig) map[string]service.AgentSettings {
	out := make(map[string]service.AgentSettings, len(agents))
	for slug, a := range agents {
		out[slug] = service.AgentSettings{
			Profile:         a.AgentProfile,
			DefaultProvider: a.DefaultProvider,
			Secret:          a.Secret,
		}
	}
	return out
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	runCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	if n, err := app.registry.RetryPendingPublications(ctx); err != nil {
		app.logger.Warn("Retrying identity publications failed", zap.Error(err))
	} else if n > 0 {
		app.logger.Info("Published pending identities", zap.Int("count", n))
	}

	app.startRetentionSweeper(runCtx)

	if app.natsBridge != nil {
		if err := app.natsBridge.Start(runCtx, app.dispatcher); err != nil {
			return fmt.Errorf("failed to start NATS bridge: %w", err)
		}
	}

	// 启动HTTP服务器
	if app.httpServer != nil {
		if err := app.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	app.logger.Info("Application started successfully")
	return nil
}

// WatchConfig hot-reloads provider configurations from the loader's file and
// closes every provider circuit. Agents, store and transports keep their
// startup settings.
func (app *App) WatchConfig(loader *config.Loader) {
	loader.Watch(func(cfg *config.Config, e fsnotify.Event) {
		app.registry.ReplaceProviderConfigs(cfg.Providers, cfg.DefaultProvider)
		app.factory.ResetCircuits()
		app.logger.Info("Provider configurations reloaded",
			zap.String("file", e.Name),
			zap.Strings("providers", app.registry.ProviderNames()),
		)
	}, func(err error) {
		app.logger.Warn("Ignoring invalid configuration change", zap.Error(err))
	})
}

// Stop 停止应用程序
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	// 停止HTTP服务器
	if app.httpServer != nil {
		if err := app.httpServer.Stop(ctx); err != nil {
			app.logger.Error("Failed to stop HTTP server", zap.Error(err))
		}
	}

	app.closeTransports()

	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	app.closeInfrastructure()
	app.closeRepositories()

	app.logger.Info("Application stopped successfully")
	return nil
}

func (app *App) closeTransports() {
	if app.natsBridge != nil {
		if err := app.natsBridge.Stop(); err != nil {
			app.logger.Error("Failed to stop NATS bridge", zap.Error(err))
		}
	}
}

func (app *App) closeInfrastructure() {
	if app.detach != nil {
		app.detach()
	}
	if app.bus != nil {
		app.bus.Close()
	}
}

func (app *App) closeRepositories() {
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Error("Failed to close store", zap.Error(err))
		}
	}
}

// Close releases the stores of an app built by NewAppCLI.
func (app *App) Close() error {
	if app.store == nil {
		return nil
	}
	return app.store.Close()
}

// Dispatcher 返回分发器
func (app *App) Dispatcher() *service.Dispatcher {
	return app.dispatcher
}

// Registry 返回代理注册表
func (app *App) Registry() *service.Registry {
	return app.registry
}

// Store 返回会话存储
func (app *App) Store() repository.Store {
	return app.store
}

// Identities 返回身份仓储
func (app *App) Identities() repository.IdentityRepository {
	return app.identities
}

// Stdout 返回 stdout 写出器，未配置时为 nil
func (app *App) Stdout() *stdio.Writer {
	return app.stdout
}

// Metrics 返回指标集合
func (app *App) Metrics() *monitoring.Metrics {
	return app.metrics
}

// Logger 返回日志器
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig 返回配置
func (app *App) AppConfig() *config.Config {
	return app.config
}
