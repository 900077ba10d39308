package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breathguard/internal/config"
	"breathguard/internal/types"
)

var archiveNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// memEventSource serves expired events in batches and records deletions.
type memEventSource struct {
	events  []types.AlertEvent
	deleted [][]string
	listErr error
	delErr  error
}

func (m *memEventSource) ListEventsBefore(_ context.Context, cutoff time.Time, limit int) ([]types.AlertEvent, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []types.AlertEvent
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memEventSource) DeleteEvents(_ context.Context, ids []string) (int64, error) {
	if m.delErr != nil {
		return 0, m.delErr
	}
	m.deleted = append(m.deleted, ids)
	byID := make(map[string]bool, len(ids))
	for _, id := range ids {
		byID[id] = true
	}
	kept := m.events[:0]
	for _, e := range m.events {
		if !byID[e.ID] {
			kept = append(kept, e)
		}
	}
	removed := int64(len(m.events) - len(kept))
	m.events = kept
	return removed, nil
}

func eventAt(id string, ts time.Time) types.AlertEvent {
	return types.AlertEvent{
		ID:        id,
		PatientID: "pat_1",
		Timestamp: ts,
		FromLevel: types.LevelNormal,
		ToLevel:   types.LevelWarning,
		Score:     0.61,
	}
}

func newTestArchiver(t *testing.T, store *memEventSource, batchSize int) *Archiver {
	t.Helper()
	cfg := config.ArchiveConfig{
		Dir:       t.TempDir(),
		Retention: 90 * 24 * time.Hour,
		BatchSize: batchSize,
	}
	return NewArchiver(store, cfg, fixedClock{t: archiveNow}, types.NopLogger{})
}

func readArchive(t *testing.T, path string) []types.AlertEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var out []types.AlertEvent
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var e types.AlertEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRun_ArchivesAndPrunesExpiredEvents(t *testing.T) {
	old := archiveNow.Add(-100 * 24 * time.Hour)
	store := &memEventSource{events: []types.AlertEvent{
		eventAt("evt_1", old),
		eventAt("evt_2", old.Add(time.Hour)),
		eventAt("evt_recent", archiveNow.Add(-time.Hour)),
	}}
	arch := newTestArchiver(t, store, 500)

	stats, err := arch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Archived)
	assert.Equal(t, int64(2), stats.Deleted)
	require.NotEmpty(t, stats.File)

	archived := readArchive(t, stats.File)
	require.Len(t, archived, 2)
	assert.Equal(t, "evt_1", archived[0].ID)
	assert.Equal(t, "evt_2", archived[1].ID)
	assert.Equal(t, 0.61, archived[0].Score)

	// The recent event stays in the hot store.
	require.Len(t, store.events, 1)
	assert.Equal(t, "evt_recent", store.events[0].ID)
}

func TestRun_ProcessesMultipleBatches(t *testing.T) {
	old := archiveNow.Add(-100 * 24 * time.Hour)
	store := &memEventSource{}
	for i := 0; i < 5; i++ {
		store.events = append(store.events, eventAt(
			string(rune('a'+i)), old.Add(time.Duration(i)*time.Minute)))
	}
	arch := newTestArchiver(t, store, 2)

	stats, err := arch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Archived)
	assert.Equal(t, int64(5), stats.Deleted)
	assert.Len(t, readArchive(t, stats.File), 5)
	// 2 + 2 + 1.
	assert.Len(t, store.deleted, 3)
	assert.Empty(t, store.events)
}

func TestRun_NoExpiredEvents(t *testing.T) {
	store := &memEventSource{events: []types.AlertEvent{
		eventAt("evt_recent", archiveNow.Add(-time.Hour)),
	}}
	arch := newTestArchiver(t, store, 500)

	stats, err := arch.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Archived)
	assert.Empty(t, stats.File, "no archive file should be created for an empty run")
	assert.Empty(t, store.deleted)
}

func TestRun_ListError(t *testing.T) {
	store := &memEventSource{listErr: errors.New("db down")}
	arch := newTestArchiver(t, store, 500)

	_, err := arch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing expired events")
}

func TestRun_DeleteErrorKeepsArchivedData(t *testing.T) {
	old := archiveNow.Add(-100 * 24 * time.Hour)
	store := &memEventSource{
		events: []types.AlertEvent{eventAt("evt_1", old)},
		delErr: errors.New("db down"),
	}
	arch := newTestArchiver(t, store, 500)

	stats, err := arch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pruning archived events")
	// The event made it to disk before the prune failed.
	assert.Equal(t, 1, stats.Archived)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &memEventSource{}
	arch := newTestArchiver(t, store, 500)

	_, err := arch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
