package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/llmrelay/llm-relay/internal/config"
)

// New builds the store selected by STORE_BACKEND.
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		return NewMemoryStore(logger), nil
	case config.StoreBackendSQLite:
		return NewSQLiteStore(cfg.DatabasePath, logger)
	case config.StoreBackendPostgres:
		return NewPostgresStore(cfg.DatabaseURL, logger)
	case config.StoreBackendRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisDB, cfg.RedisKeyPrefix, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}
