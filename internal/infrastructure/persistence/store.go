package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ngoclaw/agentcore/internal/domain/repository"
	"github.com/ngoclaw/agentcore/internal/infrastructure/config"
)

// NewStore 根据配置选择存储实现
func NewStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (repository.Store, error) {
	logger = logger.With(zap.String("store", cfg.Type))

	switch cfg.Type {
	case "", "file":
		s, err := NewFileStore(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Conversation store ready", zap.String("dir", cfg.Dir))
		return s, nil

	case "sqlite", "postgres":
		db, err := NewDBConnection(cfg.Type, cfg.DSN, gormlogger.Warn)
		if err != nil {
			return nil, err
		}
		logger.Info("Conversation store ready")
		return NewGormStore(db), nil

	case "redis":
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("Conversation store ready", zap.String("prefix", cfg.Prefix))
		return NewRedisStore(client, cfg.Prefix), nil

	case "memory":
		logger.Warn("Using in-memory conversation store; state is lost on exit")
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
