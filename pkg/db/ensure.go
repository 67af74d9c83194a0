package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ensureLogPrefix = "db:ensure"

// safeDBName matches allowed database names (alphanumeric and underscore only).
var safeDBName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// EnsureDatabase creates the database named in databaseURL when it does not
// exist, connecting through the server's maintenance database.
func EnsureDatabase(ctx context.Context, databaseURL string) error {
	dbname, maintenanceURL, err := splitDatabaseURL(databaseURL)
	if err != nil {
		return err
	}

	config, err := pgxpool.ParseConfig(maintenanceURL)
	if err != nil {
		return fmt.Errorf("%s - failed to parse postgres URL: %w", ensureLogPrefix, err)
	}
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to postgres: %w", ensureLogPrefix, err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, dbname).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s - failed to check database: %w", ensureLogPrefix, err)
	}
	if exists {
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Creating database %q", ensureLogPrefix, dbname))
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", quoteIdent(dbname))); err != nil {
		return fmt.Errorf("%s - CREATE DATABASE failed: %w", ensureLogPrefix, err)
	}
	return nil
}

// splitDatabaseURL returns the database name and the same URL pointed at
// the postgres maintenance database.
func splitDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	dbname := strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	if dbname == "" {
		return "", "", fmt.Errorf("%s - database name empty in URL", ensureLogPrefix)
	}
	if !safeDBName.MatchString(dbname) {
		return "", "", fmt.Errorf("%s - database name %q contains invalid characters", ensureLogPrefix, dbname)
	}
	maintenance := *u
	maintenance.Path = "/postgres"
	return dbname, maintenance.String(), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
