package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ignite/marketplace-ops/internal/config"
	"github.com/ignite/marketplace-ops/internal/pkg/distlock"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
	_ "github.com/lib/pq"
)

const createTrackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	dir := flag.String("dir", "migrations", "Directory holding *.sql migrations")
	listOnly := flag.Bool("list", false, "List applied migrations and exit")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		if cfg, err := config.LoadFromEnv(*configPath); err == nil {
			dsn = cfg.Database.URL
		}
	}
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping failed", "error", err)
		os.Exit(1)
	}

	if *listOnly {
		applied, err := appliedMigrations(ctx, db)
		if err != nil {
			logger.Error("list failed", "error", err)
			os.Exit(1)
		}
		for _, name := range applied {
			fmt.Println(" ", name)
		}
		fmt.Printf("Total: %d applied\n", len(applied))
		return
	}

	// Two deploys starting together must not apply the same file twice.
	lock := distlock.NewPGAdvisoryLock(db, "schema-migrations")
	var applied int
	err = distlock.WithLock(ctx, lock, 2*time.Minute, func(ctx context.Context) error {
		var err error
		applied, err = migrate(ctx, db, os.DirFS(*dir))
		return err
	})
	if err != nil {
		logger.Error("migration failed", "error", err, "applied", applied)
		os.Exit(1)
	}
	logger.Info("migrations complete", "applied", applied)
}

// migrate applies every *.sql file of fsys not yet recorded in
// schema_migrations, in lexical order, each in its own transaction. It
// stops at the first failure.
func migrate(ctx context.Context, db *sql.DB, fsys fs.FS) (int, error) {
	if _, err := db.ExecContext(ctx, createTrackingTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	done, err := appliedMigrations(ctx, db)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(done))
	for _, name := range done {
		seen[name] = true
	}

	files, err := pendingFiles(fsys, seen)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := applyOne(ctx, db, name, string(data)); err != nil {
			return applied, err
		}
		logger.Info("migration applied", "file", name)
		applied++
	}
	return applied, nil
}

func pendingFiles(fsys fs.FS, seen map[string]bool) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") && !seen[e.Name()] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func applyOne(ctx context.Context, db *sql.DB, name, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, content); err != nil {
		tx.Rollback()
		return fmt.Errorf("apply %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		tx.Rollback()
		return fmt.Errorf("record %s: %w", name, err)
	}
	return tx.Commit()
}

func appliedMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT filename FROM schema_migrations ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
