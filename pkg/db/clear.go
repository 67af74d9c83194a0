package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearCacheIndex removes every cache index record. Cached files are untouched.
func ClearCacheIndex(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing cache index", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE cache_entries`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Cache index cleared", clearLogPrefix))
	return nil
}
