package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rainbow-bridge/internal/config"
	"github.com/morezero/rainbow-bridge/pkg/bridge"
	"github.com/morezero/rainbow-bridge/pkg/cache"
	"github.com/morezero/rainbow-bridge/pkg/commsutil"
	"github.com/morezero/rainbow-bridge/pkg/registry"
	"github.com/morezero/rainbow-bridge/pkg/surface"
)

const serverTestPrefix = "server:server_test"

// testServer returns a Server with a recorder-backed host and an in-memory
// SQLite index for HTTP handler tests. No COMMS connection is made.
func testServer(t *testing.T) *Server {
	t.Helper()
	host, err := bridge.New(&surface.Recorder{}, bridge.Options{})
	if err != nil {
		t.Fatalf("%s - bridge.New: %v", serverTestPrefix, err)
	}
	idx, err := cache.OpenSQLiteIndex(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("%s - OpenSQLiteIndex: %v", serverTestPrefix, err)
	}
	s := &Server{
		cfg:       &config.Config{SurfaceID: "main", HealthCheckTimeout: 5 * time.Second},
		host:      host,
		index:     idx,
		startedAt: time.Now().UTC(),
	}
	t.Cleanup(func() {
		host.Close()
		idx.Close()
	})
	return s
}

func TestHandleHealth_NoComms(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - status = %d, want 503", serverTestPrefix, rec.Code)
	}
	var h HealthOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if h.Status != "unhealthy" || h.Checks.Comms || !h.Checks.Index {
		t.Errorf("%s - health = %+v, want unhealthy with index ok", serverTestPrefix, h)
	}
}

func TestHandleReady(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ready"`) {
		t.Errorf("%s - body = %q", serverTestPrefix, rec.Body.String())
	}
}

func TestHandleCapabilities(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/capabilities", nil))

	var caps []registry.Description
	if err := json.Unmarshal(rec.Body.Bytes(), &caps); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if len(caps) != 8 {
		t.Fatalf("%s - got %d capabilities, want 8", serverTestPrefix, len(caps))
	}
	modes := map[string]string{}
	for _, c := range caps {
		modes[c.Name] = c.Mode
	}
	if modes["joinPeerGroup"] != "streaming" {
		t.Errorf("%s - joinPeerGroup mode = %q, want streaming", serverTestPrefix, modes["joinPeerGroup"])
	}
	if modes["playVibration"] != "single" {
		t.Errorf("%s - playVibration mode = %q, want single", serverTestPrefix, modes["playVibration"])
	}
}

func TestHandleCache(t *testing.T) {
	s := testServer(t)
	err := s.index.Record(context.Background(), cache.Entry{
		Path: "media/logo.png", URL: "https://cdn.example.com/logo.png", Size: 12, CachedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("%s - Record: %v", serverTestPrefix, err)
	}

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache", nil))

	var entries []cache.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if len(entries) != 1 || entries[0].Path != "media/logo.png" || entries[0].Size != 12 {
		t.Errorf("%s - entries = %+v", serverTestPrefix, entries)
	}
}

func TestHandleHome(t *testing.T) {
	s := testServer(t)
	s.index.Record(context.Background(), cache.Entry{
		Path: "docs/terms.html", URL: "https://example.com/terms.html", Size: 3, CachedAt: time.Now().UTC(),
	})

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Rainbow Bridge", "Surface main", "playVibration", "downloadAndCache", "docs/terms.html", "Not joined."} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - home page missing %q", serverTestPrefix, want)
		}
	}
}

func TestHandleHome_UnknownPath(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - status = %d, want 404", serverTestPrefix, rec.Code)
	}
}

func TestOpenIndex(t *testing.T) {
	ctx := context.Background()

	idx, err := OpenIndex(ctx, &config.Config{})
	if err != nil {
		t.Fatalf("%s - OpenIndex(none): %v", serverTestPrefix, err)
	}
	if _, ok := idx.(cache.NopIndex); !ok {
		t.Errorf("%s - OpenIndex(none) = %T, want cache.NopIndex", serverTestPrefix, idx)
	}

	path := filepath.Join(t.TempDir(), "index", "cache.db")
	idx, err = OpenIndex(ctx, &config.Config{CacheIndexURL: "sqlite:" + path})
	if err != nil {
		t.Fatalf("%s - OpenIndex(sqlite): %v", serverTestPrefix, err)
	}
	defer idx.Close()
	if _, ok := idx.(*cache.SQLiteIndex); !ok {
		t.Errorf("%s - OpenIndex(sqlite) = %T, want *cache.SQLiteIndex", serverTestPrefix, idx)
	}

	if _, err := OpenIndex(ctx, &config.Config{CacheIndexURL: "redis://localhost"}); err == nil {
		t.Errorf("%s - expected error for unsupported index URL", serverTestPrefix)
	}
}

func TestDownloadRetries(t *testing.T) {
	if got := downloadRetries(0); got != -1 {
		t.Errorf("%s - downloadRetries(0) = %d, want -1", serverTestPrefix, got)
	}
	if got := downloadRetries(5); got != 5 {
		t.Errorf("%s - downloadRetries(5) = %d, want 5", serverTestPrefix, got)
	}
}

func TestStart_EmbeddedCommsRoundTrip(t *testing.T) {
	cfg := &config.Config{
		COMMSName:            "rainbowbridge-test",
		EmbeddedCOMMS:        true,
		EmbeddedCOMMSHost:    "127.0.0.1",
		EmbeddedCOMMSPort:    14295,
		SurfaceID:            "main",
		PeerHeartbeat:        time.Second,
		PeerExpiry:           3 * time.Second,
		DeviceRequestTimeout: time.Second,
		BiometricTimeout:     time.Second,
		CacheDir:             t.TempDir(),
		DownloadTimeout:      5 * time.Second,
		HTTPAddr:             "127.0.0.1:0",
		HealthCheckTimeout:   time.Second,
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Fatalf("%s - ValidateForServe: %v", serverTestPrefix, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := Start(ctx, cfg)
	if err != nil {
		t.Fatalf("%s - Start: %v", serverTestPrefix, err)
	}
	defer s.Shutdown()
	go s.host.Run(ctx)

	shell, err := commsutil.Connect("nats://127.0.0.1:14295", "shell")
	if err != nil {
		t.Fatalf("%s - connect shell: %v", serverTestPrefix, err)
	}
	defer shell.Close()

	scripts := make(chan string, 4)
	sub, err := shell.Subscribe(commsutil.BuildEvalSubject("main"), func(msg *comms.Msg) {
		scripts <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("%s - subscribe eval: %v", serverTestPrefix, err)
	}
	defer sub.Unsubscribe()
	shell.Flush()

	msg := `{"wrappedApiName":"clearCache","callbackId":"7","params":{"path":"missing.txt"}}`
	if err := shell.Publish(commsutil.BuildMessagesSubject("main"), []byte(msg)); err != nil {
		t.Fatalf("%s - publish: %v", serverTestPrefix, err)
	}

	select {
	case script := <-scripts:
		if !strings.Contains(script, `"7"`) || !strings.Contains(script, "Cache cleared") {
			t.Errorf("%s - script = %q", serverTestPrefix, script)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("%s - no script evaluated", serverTestPrefix)
	}

	h := s.health(context.Background())
	if h.Status != "healthy" {
		t.Errorf("%s - health = %+v, want healthy", serverTestPrefix, h)
	}
}
