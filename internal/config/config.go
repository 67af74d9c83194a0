// Package config provides bridge configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Cache index backends selected by CACHE_INDEX_URL.
const (
	IndexNone     = "none"
	IndexPostgres = "postgres"
	IndexSQLite   = "sqlite"
)

// Config holds rainbowbridge configuration.
type Config struct {
	// COMMS: connect to NATS at COMMSURL, or run an embedded server.
	COMMSURL          string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName         string `envconfig:"SERVICE_NAME" default:"rainbowbridge"`
	EmbeddedCOMMS     bool   `envconfig:"EMBEDDED_COMMS" default:"false"`
	EmbeddedCOMMSHost string `envconfig:"EMBEDDED_COMMS_HOST" default:"127.0.0.1"`
	EmbeddedCOMMSPort int    `envconfig:"EMBEDDED_COMMS_PORT" default:"4222"`

	// Surface and peers
	SurfaceID string `envconfig:"SURFACE_ID" default:"main"`
	PeerID    string `envconfig:"PEER_ID"`
	// Peers announce themselves every PEER_HEARTBEAT and expire after PEER_EXPIRY of silence.
	PeerHeartbeat      time.Duration `envconfig:"PEER_HEARTBEAT" default:"10s"`
	PeerExpiry         time.Duration `envconfig:"PEER_EXPIRY" default:"30s"`
	CallbackEntryPoint string        `envconfig:"CALLBACK_ENTRY_POINT"`
	ManifestFile       string        `envconfig:"MANIFEST_FILE"`
	// DispatchEventsSubject overrides rainbowbridge.events.dispatch.
	DispatchEventsSubject string `envconfig:"DISPATCH_EVENTS_SUBJECT"`

	// Device providers
	DeviceRequestTimeout time.Duration `envconfig:"DEVICE_REQUEST_TIMEOUT" default:"5s"`
	BiometricTimeout     time.Duration `envconfig:"BIOMETRIC_TIMEOUT" default:"2m"`

	// Download cache
	CacheDir           string        `envconfig:"CACHE_DIR"`
	CacheAllowedPaths  []string      `envconfig:"CACHE_ALLOWED_PATHS"`
	CacheStrictErrors  bool          `envconfig:"CACHE_STRICT_ERRORS" default:"false"`
	CacheIndexURL      string        `envconfig:"CACHE_INDEX_URL"`
	DownloadTimeout    time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"60s"`
	DownloadMaxRetries int           `envconfig:"DOWNLOAD_MAX_RETRIES" default:"3"`
	DownloadMaxBytes   int64         `envconfig:"DOWNLOAD_MAX_BYTES" default:"0"`

	// HTTP status endpoint (RAINBOWBRIDGE_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"RAINBOWBRIDGE_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the bridge host.
func (c *Config) ValidateForServe() error {
	if c.SurfaceID == "" || strings.ContainsAny(c.SurfaceID, ".*> ") {
		return fmt.Errorf("%s - SURFACE_ID must be a single subject token, got %q", logPrefix, c.SurfaceID)
	}
	if !c.EmbeddedCOMMS && c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required unless EMBEDDED_COMMS is set", logPrefix)
	}
	if c.DeviceRequestTimeout <= 0 {
		return fmt.Errorf("%s - DEVICE_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.PeerHeartbeat <= 0 || c.PeerExpiry <= c.PeerHeartbeat {
		return fmt.Errorf("%s - PEER_EXPIRY must exceed a positive PEER_HEARTBEAT", logPrefix)
	}
	if c.BiometricTimeout <= 0 {
		return fmt.Errorf("%s - BIOMETRIC_TIMEOUT must be positive", logPrefix)
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("%s - DOWNLOAD_TIMEOUT must be positive", logPrefix)
	}
	if c.DownloadMaxRetries < 0 {
		return fmt.Errorf("%s - DOWNLOAD_MAX_RETRIES must not be negative", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if _, _, err := c.CacheIndex(); err != nil {
		return err
	}
	return nil
}

// ValidateForDB checks required config when running index commands (migrate).
func (c *Config) ValidateForDB() error {
	kind, _, err := c.CacheIndex()
	if err != nil {
		return err
	}
	if kind == IndexNone {
		return fmt.Errorf("%s - CACHE_INDEX_URL is required", logPrefix)
	}
	return nil
}

// CacheIndex returns the index backend and its DSN: a Postgres URL or a
// SQLite file path ("sqlite:/var/lib/bridge/index.db").
func (c *Config) CacheIndex() (string, string, error) {
	u := strings.TrimSpace(c.CacheIndexURL)
	switch {
	case u == "":
		return IndexNone, "", nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return IndexPostgres, u, nil
	case strings.HasPrefix(u, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(u, "sqlite:"), "//")
		if path == "" {
			return "", "", fmt.Errorf("%s - CACHE_INDEX_URL sqlite path is empty", logPrefix)
		}
		return IndexSQLite, path, nil
	default:
		return "", "", fmt.Errorf("%s - CACHE_INDEX_URL must start with postgres:// or sqlite:, got %q", logPrefix, u)
	}
}

// ResolveCacheDir returns CACHE_DIR, defaulting to the user cache directory.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("%s - no CACHE_DIR and no user cache dir: %w", logPrefix, err)
	}
	return filepath.Join(base, "rainbowbridge"), nil
}
