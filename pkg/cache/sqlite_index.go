package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteLogPrefix = "cache:sqlite_index"

// SQLiteIndex stores the cache index in an embedded SQLite file.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (creating if needed) the index at dbPath.
func OpenSQLiteIndex(ctx context.Context, dbPath string) (*SQLiteIndex, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("%s - create db dir: %w", sqliteLogPrefix, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%s - open sqlite: %w", sqliteLogPrefix, err)
	}
	// One connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	idx := &SQLiteIndex{db: db}
	if err := idx.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cache_entries (
  path TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  size INTEGER NOT NULL,
  cached_at TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%s - create cache_entries table: %w", sqliteLogPrefix, err)
	}
	return nil
}

func (s *SQLiteIndex) Record(ctx context.Context, e Entry) error {
	const stmt = `
INSERT INTO cache_entries (path, url, size, cached_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
  url=excluded.url,
  size=excluded.size,
  cached_at=excluded.cached_at;
`
	_, err := s.db.ExecContext(ctx, stmt, e.Path, e.URL, e.Size, e.CachedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%s - record %s: %w", sqliteLogPrefix, e.Path, err)
	}
	return nil
}

func (s *SQLiteIndex) Remove(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE path = ?`, path); err != nil {
		return fmt.Errorf("%s - remove %s: %w", sqliteLogPrefix, path, err)
	}
	return nil
}

func (s *SQLiteIndex) Get(ctx context.Context, path string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT path, url, size, cached_at FROM cache_entries WHERE path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s - get %s: %w", sqliteLogPrefix, path, err)
	}
	return e, nil
}

func (s *SQLiteIndex) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, url, size, cached_at FROM cache_entries ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("%s - list: %w", sqliteLogPrefix, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - scan: %w", sqliteLogPrefix, err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *SQLiteIndex) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e        Entry
		cachedAt string
	)
	if err := row.Scan(&e.Path, &e.URL, &e.Size, &cachedAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, cachedAt)
	if err != nil {
		return nil, fmt.Errorf("parse cached_at %q: %w", cachedAt, err)
	}
	e.CachedAt = t
	return &e, nil
}
