package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/rainbow-bridge/pkg/cache"
)

const indexLogPrefix = "db:cache_index"

// CacheIndex is a cache.Index backed by the cache_entries table.
type CacheIndex struct {
	pool *pgxpool.Pool
}

var _ cache.Index = (*CacheIndex)(nil)

// NewCacheIndex creates a CacheIndex over pool. Close closes the pool.
func NewCacheIndex(pool *pgxpool.Pool) *CacheIndex {
	return &CacheIndex{pool: pool}
}

// Record upserts an entry.
func (c *CacheIndex) Record(ctx context.Context, e cache.Entry) error {
	slog.Debug(fmt.Sprintf("%s - Record path=%s", indexLogPrefix, e.Path))

	_, err := c.pool.Exec(ctx,
		`INSERT INTO cache_entries (path, url, size, cached_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (path) DO UPDATE SET
		   url = EXCLUDED.url,
		   size = EXCLUDED.size,
		   cached_at = EXCLUDED.cached_at`,
		e.Path, e.URL, e.Size, e.CachedAt)
	if err != nil {
		return fmt.Errorf("%s - record %s: %w", indexLogPrefix, e.Path, err)
	}
	return nil
}

// Remove deletes the entry for path, if any.
func (c *CacheIndex) Remove(ctx context.Context, path string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM cache_entries WHERE path = $1`, path); err != nil {
		return fmt.Errorf("%s - remove %s: %w", indexLogPrefix, path, err)
	}
	return nil
}

// Get returns the entry for path or cache.ErrEntryNotFound.
func (c *CacheIndex) Get(ctx context.Context, path string) (*cache.Entry, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT path, url, size, cached_at FROM cache_entries WHERE path = $1`, path)

	var e cache.Entry
	if err := row.Scan(&e.Path, &e.URL, &e.Size, &e.CachedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrEntryNotFound
		}
		return nil, fmt.Errorf("%s - get %s: %w", indexLogPrefix, path, err)
	}
	return &e, nil
}

// List returns every entry ordered by path.
func (c *CacheIndex) List(ctx context.Context) ([]cache.Entry, error) {
	rows, err := c.pool.Query(ctx, `SELECT path, url, size, cached_at FROM cache_entries ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("%s - list: %w", indexLogPrefix, err)
	}
	defer rows.Close()

	entries := []cache.Entry{}
	for rows.Next() {
		var e cache.Entry
		if err := rows.Scan(&e.Path, &e.URL, &e.Size, &e.CachedAt); err != nil {
			return nil, fmt.Errorf("%s - scan: %w", indexLogPrefix, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying pool.
func (c *CacheIndex) Close() error {
	c.pool.Close()
	return nil
}

// Ping checks the database is reachable.
func (c *CacheIndex) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}
