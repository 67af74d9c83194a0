// Package cache stores downloaded files under an application-scoped
// directory and keeps an index of what it holds.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const logPrefix = "cache:store"

var (
	// ErrInvalidPath is returned for an empty cache path.
	ErrInvalidPath = errors.New("invalid cache path")
	// ErrPathEscape is returned when a path resolves outside the base directory.
	ErrPathEscape = errors.New("cache path escapes base directory")
	// ErrPathNotAllowed is returned when no allowlist pattern matches.
	ErrPathNotAllowed = errors.New("cache path not allowed")
)

// Outcome of Store.Download.
type Outcome int

const (
	// Downloaded means the resource was fetched and written.
	Downloaded Outcome = iota
	// AlreadyExists means the target existed and overwrite was false.
	AlreadyExists
)

func (o Outcome) String() string {
	if o == AlreadyExists {
		return "already_exists"
	}
	return "downloaded"
}

// StoreOpts configures a Store.
type StoreOpts struct {
	BaseDir string
	// AllowedPaths are doublestar patterns over cache-relative paths.
	// Empty allows every path.
	AllowedPaths []string
	Index        Index
	Fetcher      *Fetcher
}

// Store is the download cache.
type Store struct {
	baseDir string
	allowed []string
	index   Index
	fetcher *Fetcher
}

// NewStore creates a Store, creating BaseDir if needed.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("%s - base dir is required", logPrefix)
	}
	base, err := filepath.Abs(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("%s - resolve base dir: %w", logPrefix, err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("%s - create base dir: %w", logPrefix, err)
	}
	for _, p := range opts.AllowedPaths {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%s - invalid allowed path pattern %q", logPrefix, p)
		}
	}

	s := &Store{
		baseDir: base,
		allowed: opts.AllowedPaths,
		index:   opts.Index,
		fetcher: opts.Fetcher,
	}
	if s.index == nil {
		s.index = NopIndex{}
	}
	if s.fetcher == nil {
		s.fetcher = NewFetcher(FetcherOpts{})
	}
	return s, nil
}

// BaseDir returns the absolute cache directory.
func (s *Store) BaseDir() string { return s.baseDir }

// Index returns the store's index.
func (s *Store) Index() Index { return s.index }

// Key normalizes a caller path to its cache-relative form. A leading slash
// is relative to the base directory.
func (s *Store) Key(p string) (string, error) {
	trimmed := strings.TrimLeft(filepath.ToSlash(p), "/")
	if trimmed == "" {
		return "", ErrInvalidPath
	}
	key := path.Clean(trimmed)
	if key == "." {
		return "", ErrInvalidPath
	}
	if key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	if !s.isAllowed(key) {
		return "", fmt.Errorf("%w: %s", ErrPathNotAllowed, p)
	}
	return key, nil
}

// Resolve returns the absolute target for a caller path.
func (s *Store) Resolve(p string) (string, error) {
	key, err := s.Key(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}

func (s *Store) isAllowed(key string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	for _, pattern := range s.allowed {
		if ok, _ := doublestar.Match(pattern, key); ok {
			return true
		}
	}
	return false
}

// Download fetches rawURL to the cache path p. An existing target is kept
// when overwrite is false and no request is made.
func (s *Store) Download(ctx context.Context, rawURL, p string, overwrite bool) (Outcome, error) {
	key, err := s.Key(p)
	if err != nil {
		return Downloaded, err
	}
	if err := ValidateURL(rawURL); err != nil {
		return Downloaded, err
	}
	target := filepath.Join(s.baseDir, filepath.FromSlash(key))

	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			slog.Debug(fmt.Sprintf("%s - %s already cached", logPrefix, key))
			return AlreadyExists, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Downloaded, fmt.Errorf("%s - create parent of %s: %w", logPrefix, key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return Downloaded, fmt.Errorf("%s - create temp file: %w", logPrefix, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	size, err := s.fetcher.Fetch(ctx, rawURL, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return Downloaded, err
	}
	if err := os.Rename(tmpName, target); err != nil {
		return Downloaded, fmt.Errorf("%s - write %s: %w", logPrefix, key, err)
	}

	entry := Entry{Path: key, URL: rawURL, Size: size, CachedAt: time.Now().UTC()}
	if err := s.index.Record(ctx, entry); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to index %s: %v", logPrefix, key, err))
	}
	slog.Info(fmt.Sprintf("%s - cached %s (%d bytes)", logPrefix, key, size))
	return Downloaded, nil
}

// Clear removes the cached file at p and its index record. A missing file
// is not an error.
func (s *Store) Clear(ctx context.Context, p string) error {
	key, err := s.Key(p)
	if err != nil {
		return err
	}
	target := filepath.Join(s.baseDir, filepath.FromSlash(key))

	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s - remove %s: %w", logPrefix, key, err)
	}
	if err := s.index.Remove(ctx, key); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to unindex %s: %v", logPrefix, key, err))
	}
	return nil
}

// IsPathError reports whether err is a rejected cache path or URL.
func IsPathError(err error) bool {
	return errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrPathEscape) ||
		errors.Is(err, ErrPathNotAllowed) ||
		errors.Is(err, ErrInvalidURL)
}
