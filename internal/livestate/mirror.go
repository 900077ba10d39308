// Package livestate mirrors the latest per-patient snapshot into Redis so
// dashboard reads never touch the scoring path. The mirror is best-effort:
// Postgres remains the source of truth and a write failure only degrades
// read freshness.
package livestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"breathguard/internal/types"
)

// ErrMiss is returned when no snapshot is mirrored for a patient.
var ErrMiss = errors.New("live state miss")

const keyPrefix = "breathguard:livestate:"

// Mirror publishes and reads latest-state snapshots keyed by patient ID.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
	logger types.Logger
}

// NewMirror creates a Mirror with the given snapshot TTL. Entries expire so
// a patient whose node goes silent eventually drops off the live view.
func NewMirror(client *redis.Client, ttl time.Duration, logger types.Logger) *Mirror {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Mirror{client: client, ttl: ttl, logger: logger}
}

// NewClient creates a Redis client from connection settings.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping verifies the Redis connection.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func key(patientID string) string {
	return keyPrefix + patientID
}

// Publish overwrites the mirrored snapshot for the patient.
func (m *Mirror) Publish(ctx context.Context, snap types.StateSnapshot) error {
	patientID := snap.State.PatientID
	if patientID == "" {
		patientID = snap.Score.PatientID
	}
	if patientID == "" {
		return fmt.Errorf("snapshot has no patient id")
	}

	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := m.client.Set(ctx, key(patientID), b, m.ttl).Err(); err != nil {
		return fmt.Errorf("set live state: %w", err)
	}
	return nil
}

// Get returns the mirrored snapshot for a patient, or ErrMiss when none is
// mirrored (never seen, or expired).
func (m *Mirror) Get(ctx context.Context, patientID string) (*types.StateSnapshot, error) {
	val, err := m.client.Get(ctx, key(patientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("get live state: %w", err)
	}

	var snap types.StateSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		// A corrupt entry is treated as a miss; the next publish heals it.
		m.logger.Warn("discarding corrupt live state entry",
			"patient_id", patientID, "error", err)
		return nil, ErrMiss
	}
	return &snap, nil
}

// ActivePatients lists patient IDs with a live (unexpired) snapshot.
func (m *Mirror) ActivePatients(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, keyPrefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan live state keys: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, k[len(keyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}
