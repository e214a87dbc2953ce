package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/agentcore/internal/application"
	"github.com/ngoclaw/agentcore/internal/infrastructure/config"
	"github.com/ngoclaw/agentcore/internal/infrastructure/logger"
	"github.com/ngoclaw/agentcore/internal/interfaces/stdio"
)

const (
	appName    = "agentcore"
	appVersion = "0.1.0"
)

// 全局参数
var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "agentcore: conversational agent core",
		Long:          "agentcore 将入站消息路由给具名代理，调用语言模型后端并发布回复",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认 ./config.yaml 或 ~/.agentcore/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "覆盖日志级别 (debug, info, warn, error)")

	// --- Subcommands ---

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动服务 (HTTP + NATS，或 --stdin 模式)",
		Long:  "启动 agentcore：加载代理与 provider 配置，按配置开启 HTTP API 与 NATS 桥接。--stdin 时从标准输入读取 JSON 行信封并把回复写到标准输出",
		RunE:  runServe,
	}
	serveCmd.Flags().Bool("stdin", false, "从 stdin 读取入站信封，回复写到 stdout")
	serveCmd.Flags().Bool("outcomes", false, "stdin 模式下每次分发后写出结果行")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "生成初始配置文件 (不会覆盖已有文件)",
		RunE:  runInit,
	}
	initCmd.Flags().String("dir", "", "目标目录 (默认 ~/.agentcore)")
	rootCmd.AddCommand(initCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "删除超过保留期的会话",
		RunE:  runCleanup,
	}
	cleanupCmd.Flags().Duration("max-age", 0, "保留期 (默认使用 dispatch.retention_max_age)")
	rootCmd.AddCommand(cleanupCmd)

	rootCmd.AddCommand(newConversationsCmd(), newIdentitiesCmd(), newEventsCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	})

	return rootCmd
}

// loadConfig 读取配置并构建日志器
func loadConfig() (*config.Loader, *config.Config, *zap.Logger, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger init: %w", err)
	}
	return loader, cfg, log, nil
}

// ─── serve ───

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	useStdin, _ := cmd.Flags().GetBool("stdin")
	reportOutcomes, _ := cmd.Flags().GetBool("outcomes")

	log.Info("Starting agentcore",
		zap.String("version", appVersion),
		zap.String("config", loader.ConfigFile()),
		zap.Bool("stdin", useStdin),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := application.Options{}
	if useStdin {
		opts.Stdout = cmd.OutOrStdout()
	}

	app, err := application.NewApp(ctx, cfg, log, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		shutdown(app, log)
		return fmt.Errorf("failed to start application: %w", err)
	}
	app.WatchConfig(loader)

	if useStdin {
		reader := stdio.NewReader(app.Dispatcher(), app.Stdout(), log)
		reader.ReportOutcomes = reportOutcomes
		n, err := reader.Run(ctx, cmd.InOrStdin())
		log.Info("Input stream finished", zap.Int("dispatched", n))
		shutdown(app, log)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("Received shutdown signal")
	shutdown(app, log)
	return nil
}

func shutdown(app *application.App, log *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
	}
}

// ─── init ───

func runInit(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	path, err := config.Bootstrap(dir, zap.NewNop())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", path)
	return nil
}
