// Package archive exports expired alert events to compressed NDJSON files
// and prunes them from the hot store. Alert history older than the retention
// window stays queryable offline for clinical audit without bloating the
// events table.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"breathguard/internal/config"
	"breathguard/internal/types"
)

// EventSource is the slice of the event repository the archiver needs.
type EventSource interface {
	ListEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.AlertEvent, error)
	DeleteEvents(ctx context.Context, ids []string) (int64, error)
}

// Stats summarizes one archival run.
type Stats struct {
	Archived int
	Deleted  int64
	File     string
}

// Archiver drains expired alert events into a gzip-compressed NDJSON file,
// one event per line, then deletes the archived rows. Events are deleted only
// after the batch they belong to has been flushed to disk, so a crash
// mid-run can duplicate events in the archive but never lose them.
type Archiver struct {
	store  EventSource
	cfg    config.ArchiveConfig
	clock  types.Clock
	logger types.Logger
}

// NewArchiver creates an archiver over the given event source.
func NewArchiver(store EventSource, cfg config.ArchiveConfig, clock types.Clock, logger types.Logger) *Archiver {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Archiver{store: store, cfg: cfg, clock: clock, logger: logger}
}

// Run archives and prunes all alert events older than the retention window.
// It processes events in batches until none remain. When no events qualify,
// no archive file is created.
func (a *Archiver) Run(ctx context.Context) (Stats, error) {
	now := a.clock.Now().UTC()
	cutoff := now.Add(-a.cfg.Retention)

	a.logger.Info("archival run starting",
		"cutoff", cutoff.Format(time.RFC3339),
		"batch_size", a.cfg.BatchSize,
	)

	var (
		stats Stats
		file  *os.File
		gz    *gzip.Writer
		enc   *json.Encoder
	)
	defer func() {
		if gz != nil {
			gz.Close()
		}
		if file != nil {
			file.Close()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		events, err := a.store.ListEventsBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("archive: listing expired events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		if file == nil {
			file, gz, enc, err = a.openArchive(now)
			if err != nil {
				return stats, err
			}
			stats.File = file.Name()
		}

		ids := make([]string, 0, len(events))
		for i := range events {
			if err := enc.Encode(&events[i]); err != nil {
				return stats, fmt.Errorf("archive: encoding event %s: %w", events[i].ID, err)
			}
			ids = append(ids, events[i].ID)
		}

		// Flush the batch to disk before deleting its rows.
		if err := gz.Flush(); err != nil {
			return stats, fmt.Errorf("archive: flushing %s: %w", file.Name(), err)
		}
		stats.Archived += len(events)

		deleted, err := a.store.DeleteEvents(ctx, ids)
		if err != nil {
			return stats, fmt.Errorf("archive: pruning archived events: %w", err)
		}
		stats.Deleted += deleted

		if len(events) < a.cfg.BatchSize {
			break
		}
	}

	if file != nil {
		if err := gz.Close(); err != nil {
			return stats, fmt.Errorf("archive: closing gzip stream: %w", err)
		}
		gz = nil
		if err := file.Close(); err != nil {
			return stats, fmt.Errorf("archive: closing %s: %w", stats.File, err)
		}
		file = nil
	}

	a.logger.Info("archival run complete",
		"archived", stats.Archived,
		"deleted", stats.Deleted,
		"file", stats.File,
	)

	return stats, nil
}

func (a *Archiver) openArchive(now time.Time) (*os.File, *gzip.Writer, *json.Encoder, error) {
	if err := os.MkdirAll(a.cfg.Dir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("archive: creating directory %s: %w", a.cfg.Dir, err)
	}
	name := fmt.Sprintf("alert_events_%s.ndjson.gz", now.Format("20060102T150405Z"))
	path := filepath.Join(a.cfg.Dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("archive: creating %s: %w", path, err)
	}
	gz := gzip.NewWriter(file)
	return file, gz, json.NewEncoder(gz), nil
}
