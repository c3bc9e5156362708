package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"wholesale-fulfillment/internal/cache"
	"wholesale-fulfillment/internal/config"
	"wholesale-fulfillment/internal/core"
	"wholesale-fulfillment/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// migrationLockID serializes concurrent migrators across processes.
const migrationLockID = 7462839

type migration struct {
	version  string
	filename string
	path     string
	checksum string
	sql      string
}

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	if err := run(context.Background(), cfg, dir, logger); err != nil {
		logger.WithError(err).Fatal("migrate failed")
	}
	logger.Info("all migrations processed")
}

func run(ctx context.Context, cfg config.Config, dir string, logger *logrus.Logger) error {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := db.NewPool(connCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := acquireLock(ctx, pool)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID)
		conn.Release()
	}()

	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	migrations, err := discover(dir)
	if err != nil {
		return err
	}
	changed := 0
	for _, m := range migrations {
		applied, err := apply(ctx, pool, m)
		if err != nil {
			return err
		}
		entry := logger.WithFields(logrus.Fields{"version": m.version, "file": m.filename})
		if applied {
			changed++
			entry.Info("applied")
		} else {
			entry.Debug("already applied")
		}
	}
	if changed > 0 {
		invalidateSettings(ctx, cfg, pool, logger)
	}
	return nil
}

// invalidateSettings drops the cached settings snapshot, which may predate the
// schema just applied. A missing or unreachable Redis is not an error.
func invalidateSettings(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *logrus.Logger) {
	client, err := cache.NewClient(ctx, cfg.RedisAddress)
	if err != nil {
		config.LogError(logger, "migrate", "invalidateSettings", "redis unavailable; cached settings expire on their own", cfg.RedisAddress, err)
		return
	}
	if client == nil {
		return
	}
	defer client.Close()

	settings := cache.NewSettingsCache(core.NewSettingsStore(pool), client, cfg.SettingsCacheTTL, logger)
	if err := settings.Invalidate(ctx); err != nil {
		config.LogError(logger, "migrate", "invalidateSettings", "drop cached settings", nil, err)
		return
	}
	logger.Info("cached settings invalidated")
}

func acquireLock(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for lock: %w", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", migrationLockID).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to query advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, errors.New("another migrator is currently running")
	}
	return conn, nil
}

// discover returns NNN_description.sql files in version order.
func discover(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var out []migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("invalid migration filename %s: expected NNN_description.sql", entry.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %s: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		sum := sha256.Sum256(raw)
		out = append(out, migration{
			version:  version,
			filename: entry.Name(),
			path:     path,
			checksum: hex.EncodeToString(sum[:]),
			sql:      string(raw),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].filename < out[j].filename })
	return out, nil
}

// apply runs one migration in its own transaction. An already-recorded version
// with a different checksum is an error: applied files are immutable.
func apply(ctx context.Context, pool *pgxpool.Pool, m migration) (bool, error) {
	var existing string
	err := pool.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", m.version).Scan(&existing)
	switch {
	case err == nil && existing == m.checksum:
		return false, nil
	case err == nil:
		return false, fmt.Errorf("checksum mismatch for %s: recorded %s, file %s", m.filename, existing, m.checksum)
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("failed to query schema_migrations for %s: %w", m.filename, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for %s: %w", m.filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return false, fmt.Errorf("failed to execute migration %s: %w", m.filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		m.version, m.filename, m.checksum); err != nil {
		return false, fmt.Errorf("failed to record migration %s: %w", m.filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit migration %s: %w", m.filename, err)
	}
	return true, nil
}
