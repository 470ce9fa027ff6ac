// Package storage provides the durable key-value backends underneath
// the cache and the sync queue.
package storage

import (
	"context"
	"fmt"

	"azbuka/internal/config"
	"azbuka/internal/domain"

	"github.com/rs/zerolog"
)

// Open constructs the store named by cfg.Backend. When Redis is
// configured but unreachable at startup, it degrades to the in-memory
// store so the host application keeps working; queued mutations then
// survive only until process exit, which is logged loudly.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zerolog.Logger) (domain.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLite(cfg.Path, logger)
	case "redis":
		store, err := NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory store")
			return NewMemory(), nil
		}
		return store, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
