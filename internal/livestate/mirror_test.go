package livestate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breathguard/internal/types"
)

func setupTestMirror(t *testing.T) (*miniredis.Miniredis, *Mirror) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, NewMirror(client, 10*time.Minute, types.NopLogger{})
}

func testSnapshot(patientID string, probability float64, level types.AlertLevel) types.StateSnapshot {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return types.StateSnapshot{
		Score: types.RiskScore{
			PatientID:    patientID,
			Timestamp:    now,
			Probability:  probability,
			ModelVersion: "2026.02-r1",
			Label:        types.LabelForProbability(probability),
		},
		State: types.AlertState{
			PatientID:           patientID,
			Level:               level,
			LastDispatchedLevel: level,
			LastSampleAt:        now,
		},
	}
}

func TestMirror_PublishThenGet(t *testing.T) {
	_, m := setupTestMirror(t)
	ctx := context.Background()

	err := m.Publish(ctx, testSnapshot("p-001", 0.72, types.LevelWarning))
	require.NoError(t, err)

	snap, err := m.Get(ctx, "p-001")
	require.NoError(t, err)
	assert.Equal(t, "p-001", snap.State.PatientID)
	assert.Equal(t, types.LevelWarning, snap.State.Level)
	assert.Equal(t, 0.72, snap.Score.Probability)
	assert.Equal(t, types.RiskHigh, snap.Score.Label)
}

func TestMirror_Get_Miss(t *testing.T) {
	_, m := setupTestMirror(t)

	_, err := m.Get(context.Background(), "p-unknown")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMirror_Publish_Overwrites(t *testing.T) {
	_, m := setupTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, testSnapshot("p-001", 0.3, types.LevelNormal)))
	require.NoError(t, m.Publish(ctx, testSnapshot("p-001", 0.85, types.LevelCritical)))

	snap, err := m.Get(ctx, "p-001")
	require.NoError(t, err)
	assert.Equal(t, types.LevelCritical, snap.State.Level)
	assert.Equal(t, 0.85, snap.Score.Probability)
}

func TestMirror_Publish_NoPatientID(t *testing.T) {
	_, m := setupTestMirror(t)

	err := m.Publish(context.Background(), types.StateSnapshot{})
	require.Error(t, err)
}

func TestMirror_EntryExpires(t *testing.T) {
	mr, m := setupTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, testSnapshot("p-001", 0.4, types.LevelNormal)))

	// A silent node's snapshot drops off the live view after the TTL.
	mr.FastForward(11 * time.Minute)

	_, err := m.Get(ctx, "p-001")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMirror_Get_CorruptEntryIsMiss(t *testing.T) {
	mr, m := setupTestMirror(t)

	require.NoError(t, mr.Set(keyPrefix+"p-001", "not json"))

	_, err := m.Get(context.Background(), "p-001")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMirror_ActivePatients(t *testing.T) {
	_, m := setupTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, testSnapshot("p-001", 0.3, types.LevelNormal)))
	require.NoError(t, m.Publish(ctx, testSnapshot("p-002", 0.7, types.LevelWarning)))

	ids, err := m.ActivePatients(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p-001", "p-002"}, ids)
}
