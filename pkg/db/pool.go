// Package db stores the download cache index in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	// One bridge host writes a handful of rows per download.
	config.MaxConns = 4
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// RunMigrations applies SQL migrations in order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []string) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrations)))

	for i, sql := range migrations {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s - migration %d failed: %w", logPrefix, i+1, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// schemaRelations are the tables and indexes the embedded migrations create.
// Every migration that adds a relation must add it here too.
var schemaRelations = []string{
	"cache_entries",
	"idx_cache_entries_cached_at",
}

// MigrationStatus reports whether every relation the migrations create exists.
// A schema missing any of them, such as one created before the cached_at
// index, reports false so the caller reruns the idempotent migrations.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var found int
	err := pool.QueryRow(ctx,
		`SELECT count(*) FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE n.nspname = 'public' AND c.relname = ANY($1)`, schemaRelations).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("%s - failed to check schema: %w", logPrefix, err)
	}
	if found < len(schemaRelations) {
		slog.Info(fmt.Sprintf("%s - Schema has %d of %d relations", logPrefix, found, len(schemaRelations)))
		return false, nil
	}
	return true, nil
}
