package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entolabel/specimen-digitizer/gen/ent"
	"github.com/entolabel/specimen-digitizer/internal/common"
	repo "github.com/entolabel/specimen-digitizer/internal/repository"
)

// ConnectDB opens the specimen registry from daemon configuration.
// Progress is logged by the repository layer; only failures are logged
// here.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*ent.Client, *pgxpool.Pool, error) {
	entc, pool, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}
	return entc, pool, nil
}

// PingDB verifies the registry answers within timeout.
func PingDB(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, timeout time.Duration) error {
	if err := repo.HealthCheck(ctx, pool, timeout, logger); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	return nil
}

// CloseDB releases the registry connections.
func CloseDB(entc *ent.Client, pool *pgxpool.Pool, logger *slog.Logger) {
	repo.Close(entc, pool, logger)
}
