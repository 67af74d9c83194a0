package cache

import (
	"context"
	"errors"
	"time"
)

// ErrEntryNotFound is returned by Index.Get for an unknown path.
var ErrEntryNotFound = errors.New("cache entry not found")

// Entry records one cached file.
type Entry struct {
	Path     string    `json:"path"`
	URL      string    `json:"url"`
	Size     int64     `json:"size"`
	CachedAt time.Time `json:"cachedAt"`
}

// Index records which files the cache holds. Paths are cache-relative.
type Index interface {
	Record(ctx context.Context, e Entry) error
	Remove(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// NopIndex records nothing.
type NopIndex struct{}

func (NopIndex) Record(context.Context, Entry) error  { return nil }
func (NopIndex) Remove(context.Context, string) error { return nil }
func (NopIndex) Get(context.Context, string) (*Entry, error) {
	return nil, ErrEntryNotFound
}
func (NopIndex) List(context.Context) ([]Entry, error) { return []Entry{}, nil }
func (NopIndex) Close() error                          { return nil }
