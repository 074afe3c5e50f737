package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "modernc.org/sqlite"

	"github.com/entolabel/specimen-digitizer/gen/ent"
)

// OpenSQLiteInMemory opens a throwaway in-memory database and migrates
// the schema into it. Batch runs use this to digitize a directory
// without a Postgres instance; nothing survives process exit.
func OpenSQLiteInMemory(ctx context.Context, logger *slog.Logger) (*ent.Client, error) {
	db, err := sql.Open("sqlite", "file:specimens?mode=memory&cache=shared&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The shared in-memory database vanishes when its last connection
	// closes; a single connection keeps it pinned.
	db.SetMaxOpenConns(1)

	drv := entsql.OpenDB(dialect.SQLite, db)
	client := ent.NewClient(ent.Driver(drv))
	if err := client.Schema.Create(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	logger.Info("using in-memory database")
	return client, nil
}
