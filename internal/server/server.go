// Package server orchestrates all components: COMMS client, cache index,
// device providers, peer session, bridge host and the HTTP status endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rainbow-bridge/internal/config"
	"github.com/morezero/rainbow-bridge/pkg/bridge"
	"github.com/morezero/rainbow-bridge/pkg/cache"
	"github.com/morezero/rainbow-bridge/pkg/commsutil"
	"github.com/morezero/rainbow-bridge/pkg/db"
	"github.com/morezero/rainbow-bridge/pkg/device"
	"github.com/morezero/rainbow-bridge/pkg/events"
	"github.com/morezero/rainbow-bridge/pkg/manifest"
	"github.com/morezero/rainbow-bridge/pkg/peer"
	"github.com/morezero/rainbow-bridge/pkg/registry"
	"github.com/morezero/rainbow-bridge/pkg/surface"
)

const logPrefix = "server:server"

// pinger is implemented by cache indexes that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server is the rainbowbridge orchestrator.
type Server struct {
	cfg        *config.Config
	embedded   *commsserver.Server
	nc         *comms.Conn
	index      cache.Index
	peers      *peer.Session
	host       *bridge.Host
	msgSub     *comms.Subscription
	httpServer *http.Server
	startedAt  time.Time
}

// HealthChecks reports each dependency.
type HealthChecks struct {
	Comms bool `json:"comms"`
	Index bool `json:"index"`
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Checks    HealthChecks `json:"checks"`
	Pending   int          `json:"pendingCallbacks"`
}

// SetupLogging installs the default slog text handler at level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run loads config from the environment, starts the server, blocks until a
// shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
		cancel()
	}()

	return Serve(ctx, cfg)
}

// Serve starts every component from cfg and blocks until ctx is done.
func Serve(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Starting rainbowbridge (surface %s)", logPrefix, cfg.SurfaceID))

	s, err := Start(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	runErr := make(chan error, 1)
	go func() { runErr <- s.host.Run(ctx) }()

	slog.Info(fmt.Sprintf("%s - rainbowbridge is ready", logPrefix))
	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("%s - bridge stopped: %w", logPrefix, err)
		}
	}
	return nil
}

// Start connects COMMS, opens the cache, builds the bridge host and starts
// the HTTP status server. The caller must call Shutdown.
func Start(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, startedAt: time.Now().UTC()}

	// Step 1: COMMS, embedded or external
	commsURL := cfg.COMMSURL
	if cfg.EmbeddedCOMMS {
		ns, err := commsutil.StartEmbedded(cfg.EmbeddedCOMMSHost, cfg.EmbeddedCOMMSPort)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to start embedded COMMS: %w", logPrefix, err)
		}
		s.embedded = ns
		commsURL = ns.ClientURL()
	}
	nc, err := commsutil.Connect(commsURL, cfg.COMMSName)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc

	// Step 2: cache index and store
	index, err := OpenIndex(ctx, cfg)
	if err != nil {
		s.Shutdown()
		return nil, err
	}
	s.index = index

	cacheDir, err := cfg.ResolveCacheDir()
	if err != nil {
		s.Shutdown()
		return nil, err
	}
	store, err := cache.NewStore(cache.StoreOpts{
		BaseDir:      cacheDir,
		AllowedPaths: cfg.CacheAllowedPaths,
		Index:        index,
		Fetcher: cache.NewFetcher(cache.FetcherOpts{
			Timeout:    cfg.DownloadTimeout,
			MaxRetries: downloadRetries(cfg.DownloadMaxRetries),
			MaxBytes:   cfg.DownloadMaxBytes,
		}),
	})
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("%s - failed to open cache: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Cache directory %s", logPrefix, store.BaseDir()))

	// Step 3: manifest
	m, err := manifest.Load(cfg.ManifestFile)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("%s - failed to load manifest: %w", logPrefix, err)
	}

	// Step 4: bridge host
	remote := device.NewRemote(nc, device.RemoteOpts{
		SurfaceID:        cfg.SurfaceID,
		Timeout:          cfg.DeviceRequestTimeout,
		BiometricTimeout: cfg.BiometricTimeout,
	})
	s.peers = peer.NewSession(nc, cfg.PeerID, peer.WithHeartbeat(cfg.PeerHeartbeat, cfg.PeerExpiry))
	surf := surface.NewComms(nc, cfg.SurfaceID)
	host, err := bridge.New(surf, bridge.Options{
		Devices:           remote.Providers(),
		Peers:             s.peers,
		Cache:             store,
		StrictCacheErrors: cfg.CacheStrictErrors,
		Manifest:          m,
		EntryPoint:        cfg.CallbackEntryPoint,
		Publisher:         events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Subject: cfg.DispatchEventsSubject}),
	})
	if err != nil {
		s.Shutdown()
		return nil, err
	}
	s.host = host

	// Step 5: page messages
	sub, err := surf.Subscribe(func(raw string) {
		if err := host.PostMessage(raw); err != nil {
			slog.Debug(fmt.Sprintf("%s - message not queued: %v", logPrefix, err))
		}
	})
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, surf.MessagesSubject(), err)
	}
	s.msgSub = sub
	slog.Info(fmt.Sprintf("%s - Subscribed to %s, evaluating on %s", logPrefix, surf.MessagesSubject(), surf.EvalSubject()))

	// Step 6: HTTP status server
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP status server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	return s, nil
}

// downloadRetries maps the configured count onto RetryTransport, where 0
// means the default and a negative value disables retries.
func downloadRetries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// OpenIndex opens the cache index named by CACHE_INDEX_URL. Postgres
// indexes are migrated when the cache_entries table is missing.
func OpenIndex(ctx context.Context, cfg *config.Config) (cache.Index, error) {
	kind, dsn, err := cfg.CacheIndex()
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.IndexPostgres:
		pool, err := db.NewPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to cache index: %w", logPrefix, err)
		}
		migrated, err := db.MigrationStatus(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to check migrations: %w", logPrefix, err)
		}
		if !migrated {
			migrations, err := db.Migrations()
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				pool.Close()
				return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		return db.NewCacheIndex(pool), nil
	case config.IndexSQLite:
		idx, err := cache.OpenSQLiteIndex(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to open cache index: %w", logPrefix, err)
		}
		return idx, nil
	default:
		return cache.NopIndex{}, nil
	}
}

// Shutdown stops every started component in reverse order. Idempotent.
func (s *Server) Shutdown() {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpServer.Shutdown(shutdownCtx)
		cancel()
		s.httpServer = nil
	}
	if s.msgSub != nil {
		s.msgSub.Unsubscribe()
		s.msgSub = nil
	}
	if s.host != nil {
		s.host.Close()
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - cache index close: %v", logPrefix, err))
		}
		s.index = nil
	}
	if s.nc != nil {
		s.nc.Drain()
		s.nc = nil
	}
	if s.embedded != nil {
		s.embedded.Shutdown()
		s.embedded = nil
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/capabilities", s.handleCapabilities())
	mux.HandleFunc("/cache", s.handleCache())
	return mux
}

// health checks COMMS and the cache index within the configured timeout.
func (s *Server) health(ctx context.Context) *HealthOutput {
	timeout := 5 * time.Second
	if s.cfg != nil && s.cfg.HealthCheckTimeout > 0 {
		timeout = s.cfg.HealthCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := &HealthOutput{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	out.Checks.Comms = s.nc != nil && s.nc.IsConnected()
	out.Checks.Index = true
	if p, ok := s.index.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - cache index ping failed: %v", logPrefix, err))
			out.Checks.Index = false
		}
	}
	if s.host != nil {
		out.Pending = s.host.Pending()
	}
	out.Status = "healthy"
	if !out.Checks.Comms || !out.Checks.Index {
		out.Status = "unhealthy"
	}
	return out
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := s.health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

func (s *Server) capabilities() []registry.Description {
	if s.host == nil {
		return []registry.Description{}
	}
	return s.host.Registry().Describe()
}

func (s *Server) handleCapabilities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.capabilities())
	}
}

func (s *Server) cacheEntries(ctx context.Context) ([]cache.Entry, error) {
	if s.index == nil {
		return []cache.Entry{}, nil
	}
	return s.index.List(ctx)
}

func (s *Server) handleCache() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.cacheEntries(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(entries)
	}
}

// homePageData is passed to homePageTemplate.
type homePageData struct {
	Health       *HealthOutput
	SurfaceID    string
	Version      string
	PeerID       string
	PeerGroup    string
	Peers        []string
	Capabilities []registry.Description
	Entries      []cache.Entry
	CacheError   string
	Uptime       string
}

var homePage = template.Must(template.New("home").Parse(homePageTemplate))

func (s *Server) handleHome() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		data := homePageData{
			Health:       s.health(r.Context()),
			Version:      bridge.Version,
			Capabilities: s.capabilities(),
			Uptime:       time.Since(s.startedAt).Truncate(time.Second).String(),
		}
		if s.cfg != nil {
			data.SurfaceID = s.cfg.SurfaceID
		}
		if s.peers != nil {
			data.PeerID = s.peers.PeerID()
			data.PeerGroup = s.peers.Group()
			data.Peers = s.peers.Peers()
		}
		entries, err := s.cacheEntries(r.Context())
		if err != nil {
			data.CacheError = err.Error()
		}
		data.Entries = entries

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := homePage.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home page render: %v", logPrefix, err))
		}
	}
}

// homePageTemplate is the HTML for the status page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Rainbow Bridge</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Rainbow Bridge</h1>
  <p class="meta">Surface {{.SurfaceID}}, bridge version {{.Version}}, up {{.Uptime}}.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>COMMS: {{if .Health.Checks.Comms}}<span class="stat">OK</span>{{else}}<span class="error">Disconnected</span>{{end}}</p>
    <p>Cache index: {{if .Health.Checks.Index}}<span class="stat">OK</span>{{else}}<span class="error">Failed</span>{{end}}</p>
    <p>Pending callbacks: <span class="stat">{{.Health.Pending}}</span></p>
  </section>

  <section>
    <h2>Peer group</h2>
    {{if .PeerGroup}}
    <p>{{.PeerID}} in <span class="stat">{{.PeerGroup}}</span> with {{len .Peers}} peer(s).</p>
    {{else}}
    <p>Not joined.</p>
    {{end}}
  </section>

  <section>
    <h2>Capabilities</h2>
    {{if not .Capabilities}}
    <p>No capabilities registered.</p>
    {{else}}
    <table>
      <thead><tr><th>Name</th><th>Mode</th><th>Description</th></tr></thead>
      <tbody>
        {{range .Capabilities}}
        <tr><td>{{.Name}}</td><td>{{.Mode}}</td><td>{{.Description}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Cache</h2>
    {{if .CacheError}}
    <p class="error">Could not load cache index: {{.CacheError}}</p>
    {{else if not .Entries}}
    <p>No cached files.</p>
    {{else}}
    <table>
      <thead><tr><th>Path</th><th>URL</th><th>Size</th><th>Cached at</th></tr></thead>
      <tbody>
        {{range .Entries}}
        <tr><td>{{.Path}}</td><td>{{.URL}}</td><td>{{.Size}}</td><td>{{.CachedAt.Format "2006-01-02 15:04:05"}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`
