package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/triage-garden/internal/config"
	"github.com/bissquit/triage-garden/internal/storage"
	"github.com/bissquit/triage-garden/internal/storage/memory"
	"github.com/bissquit/triage-garden/internal/storage/postgres"
	"github.com/bissquit/triage-garden/internal/storage/redis"
	"github.com/bissquit/triage-garden/internal/storage/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
)

// openStore opens the configured state store. The pool is non-nil only for the postgres backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, *pgxpool.Pool, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		slog.Warn("using in-memory state store: sessions will not survive a restart")
		return memory.NewStore(), nil, nil

	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil, nil

	case config.BackendPostgres:
		pgCfg := cfg.Postgres
		if pgCfg.Migrate {
			if err := postgres.Migrate(pgCfg.URL); err != nil {
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, pgCfg.ConnectTimeout)
		defer cancel()

		pool, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             pgCfg.URL,
			MaxOpenConns:    pgCfg.MaxOpenConns,
			MaxIdleConns:    pgCfg.MaxIdleConns,
			ConnMaxLifetime: pgCfg.ConnMaxLifetime,
			ConnectAttempts: pgCfg.ConnectAttempts,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return postgres.NewStore(pool), pool, nil

	case config.BackendRedis:
		s, err := redis.Open(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
