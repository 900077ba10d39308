// Package main is the audit-archiver entrypoint. It is a run-to-completion
// maintenance tool, intended for cron or a systemd timer: it exports alert
// events older than the retention window to compressed NDJSON files and
// prunes them from the database, then exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breathguard/internal/archive"
	"breathguard/internal/config"
	"breathguard/internal/db"
	"breathguard/internal/logging"
	"breathguard/internal/types"
)

const runTimeout = 30 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "audit-archiver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, "audit-archiver")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	events := db.NewEventRepository(pool)
	archiver := archive.NewArchiver(events, cfg.Archive, types.RealClock{}, logger)

	stats, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("archival run: %w", err)
	}

	logger.Info("audit-archiver finished",
		"archived", stats.Archived,
		"deleted", stats.Deleted,
		"file", stats.File,
	)
	return nil
}
