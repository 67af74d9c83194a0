// Package main is the entrypoint for the rainbowbridge host.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/morezero/rainbow-bridge/internal/config"
	"github.com/morezero/rainbow-bridge/internal/server"
	"github.com/morezero/rainbow-bridge/pkg/bridge"
	"github.com/morezero/rainbow-bridge/pkg/cache"
	"github.com/morezero/rainbow-bridge/pkg/commsutil"
	"github.com/morezero/rainbow-bridge/pkg/db"
	"github.com/morezero/rainbow-bridge/pkg/manifest"
	"github.com/morezero/rainbow-bridge/pkg/surface"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rainbowbridge",
		Short: "Bridge between a rendered web page and native device capabilities",
		Long: `rainbowbridge hosts the page-facing capability bridge.

Environment:
  COMMS_URL, SERVICE_NAME, EMBEDDED_COMMS, EMBEDDED_COMMS_HOST, EMBEDDED_COMMS_PORT
  SURFACE_ID, PEER_ID, PEER_HEARTBEAT, PEER_EXPIRY, CALLBACK_ENTRY_POINT, MANIFEST_FILE,
  DISPATCH_EVENTS_SUBJECT, DEVICE_REQUEST_TIMEOUT, BIOMETRIC_TIMEOUT
  CACHE_DIR, CACHE_ALLOWED_PATHS, CACHE_STRICT_ERRORS, CACHE_INDEX_URL,
  DOWNLOAD_TIMEOUT, DOWNLOAD_MAX_RETRIES, DOWNLOAD_MAX_BYTES
  RAINBOWBRIDGE_HTTP_ADDR, HTTP_PORT, HEALTH_CHECK_TIMEOUT, LOG_LEVEL`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return server.Run()
		},
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newCapabilitiesCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newClearCmd())
	root.AddCommand(newEnsureDBCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel)
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge host (default)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return server.Run()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bridge protocol version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), bridge.Version)
			return nil
		},
	}
}

func newCapabilitiesCmd() *cobra.Command {
	var manifestFile string
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Print the capabilities the bridge exposes as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if manifestFile == "" {
				manifestFile = os.Getenv("MANIFEST_FILE")
			}
			return printCapabilities(cmd.OutOrStdout(), manifestFile)
		},
	}
	cmd.Flags().StringVar(&manifestFile, "manifest", "", "capability manifest file (default MANIFEST_FILE)")
	return cmd
}

func printCapabilities(w io.Writer, manifestFile string) error {
	m, err := manifest.Load(manifestFile)
	if err != nil {
		return err
	}
	host, err := bridge.New(&surface.Recorder{}, bridge.Options{Manifest: m})
	if err != nil {
		return err
	}
	defer host.Close()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(host.Registry().Describe())
}

func newSendCmd() *cobra.Command {
	var (
		count   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <message-json>",
		Short: "Post a page message to a running bridge and print the scripts it evaluates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
			if err != nil {
				return err
			}
			defer nc.Close()
			return sendMessage(cmd.OutOrStdout(), nc, cfg.SurfaceID, args[0], count, timeout)
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "stop after this many scripts (0 waits for the timeout)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for scripts")
	return cmd
}

// sendMessage publishes raw as a page message for surfaceID and prints each
// evaluated script until count scripts arrive or timeout elapses.
func sendMessage(w io.Writer, nc *comms.Conn, surfaceID, raw string, count int, timeout time.Duration) error {
	scripts := make(chan string, 16)
	sub, err := nc.Subscribe(commsutil.BuildEvalSubject(surfaceID), func(msg *comms.Msg) {
		select {
		case scripts <- string(msg.Data):
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe eval: %w", err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	if err := nc.Publish(commsutil.BuildMessagesSubject(surfaceID), []byte(raw)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	deadline := time.After(timeout)
	seen := 0
	for count <= 0 || seen < count {
		select {
		case s := <-scripts:
			_, _ = fmt.Fprintln(w, s)
			seen++
		case <-deadline:
			if count > 0 {
				return fmt.Errorf("received %d of %d scripts before timeout", seen, count)
			}
			return nil
		}
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	migrate := &cobra.Command{Use: "migrate", Short: "Manage the cache index schema"}

	up := &cobra.Command{
		Use:   "up",
		Short: "Create or update the cache index schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForDB(); err != nil {
				return err
			}
			return migrateUp(context.Background(), cfg)
		},
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the cache index schema exists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForDB(); err != nil {
				return err
			}
			ok, err := migrationStatus(context.Background(), cfg)
			if err != nil {
				return err
			}
			state := "pending"
			if ok {
				state = "applied"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cache_entries: %s\n", state)
			return nil
		},
	}
	migrate.AddCommand(up, status)
	return migrate
}

func migrateUp(ctx context.Context, cfg *config.Config) error {
	kind, dsn, err := cfg.CacheIndex()
	if err != nil {
		return err
	}
	if kind == config.IndexSQLite {
		idx, err := cache.OpenSQLiteIndex(ctx, dsn)
		if err != nil {
			return err
		}
		return idx.Close()
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.Migrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func migrationStatus(ctx context.Context, cfg *config.Config) (bool, error) {
	kind, dsn, err := cfg.CacheIndex()
	if err != nil {
		return false, err
	}
	if kind == config.IndexSQLite {
		_, err := os.Stat(dsn)
		return err == nil, nil
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		return false, fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return db.MigrationStatus(ctx, pool)
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache index entry; files and schema are kept",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForDB(); err != nil {
				return err
			}
			return clearIndex(context.Background(), cfg)
		},
	}
}

func clearIndex(ctx context.Context, cfg *config.Config) error {
	kind, dsn, err := cfg.CacheIndex()
	if err != nil {
		return err
	}
	if kind == config.IndexPostgres {
		pool, err := db.NewPool(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		return db.ClearCacheIndex(ctx, pool)
	}

	idx, err := cache.OpenSQLiteIndex(ctx, dsn)
	if err != nil {
		return err
	}
	defer idx.Close()
	entries, err := idx.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := idx.Remove(ctx, e.Path); err != nil {
			return err
		}
	}
	return nil
}

func newEnsureDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-db",
		Short: "Create the Postgres database named in CACHE_INDEX_URL if missing",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			kind, dsn, err := cfg.CacheIndex()
			if err != nil {
				return err
			}
			if kind != config.IndexPostgres {
				return fmt.Errorf("ensure-db requires a postgres CACHE_INDEX_URL")
			}
			return db.EnsureDatabase(context.Background(), dsn)
		},
	}
}
