// Package repository persists the specimen registry: specimens, their
// label images and digitize runs, backed by ent over a pgx pool.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/entolabel/specimen-digitizer/gen/ent"
	"github.com/entolabel/specimen-digitizer/internal/common"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Open dials Postgres and returns an ent client together with the pgx
// pool it runs on. Failures here are storage-class: nothing downstream
// can proceed without the registry.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*ent.Client, *pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, common.NewAppError("DB_CONFIG", "parsing database DSN",
			fmt.Errorf("%w: %w", common.ErrStorage, err))
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "specimen-digitizer"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	// The DSN carries credentials; log the endpoint only.
	logger.Info("connecting to specimen registry",
		"host", pc.ConnConfig.Host,
		"database", pc.ConnConfig.Database,
		"max_conns", cfg.MaxConns)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, nil, common.NewAppError("DB_CONNECT", "connecting to database",
			fmt.Errorf("%w: %w", common.ErrStorage, err))
	}

	// ent drives the pool through database/sql.
	drv := entsql.OpenDB(dialect.Postgres, stdlib.OpenDBFromPool(pool))
	client := ent.NewClient(ent.Driver(drv))

	logger.Info("specimen registry connected")
	return client, pool, nil
}

// Close releases the ent client and the pool. Safe on nil arguments so
// callers can defer it immediately after Open.
func Close(entc *ent.Client, pool *pgxpool.Pool, logger *slog.Logger) {
	if entc != nil {
		if err := entc.Close(); err != nil {
			logger.Error("failed to close ent client", "error", err)
		}
	}
	if pool != nil {
		pool.Close()
	}
	logger.Info("specimen registry closed")
}

// HealthCheck pings the pool, optionally bounded by timeout.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	logger.Debug("database ping successful")
	return nil
}
