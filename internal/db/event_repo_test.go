package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"breathguard/internal/types"
)

// eventMockRows implements pgx.Rows for alert event list queries.
type eventMockRows struct {
	data    []types.AlertEvent
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func (r *eventMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *eventMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	*dest[0].(*string) = row.ID
	*dest[1].(*string) = row.PatientID
	*dest[2].(*time.Time) = row.Timestamp
	*dest[3].(*types.AlertLevel) = row.FromLevel
	*dest[4].(*types.AlertLevel) = row.ToLevel
	*dest[5].(*float64) = row.Score
	return nil
}

func (r *eventMockRows) Close()                                       { r.closed = true }
func (r *eventMockRows) Err() error                                   { return r.errVal }
func (r *eventMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *eventMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *eventMockRows) RawValues() [][]byte                          { return nil }
func (r *eventMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *eventMockRows) Conn() *pgx.Conn                              { return nil }

func TestEventRepository_AppendEvent_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	e := &types.AlertEvent{
		ID:        "evt_abc123",
		PatientID: "p-001",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FromLevel: types.LevelNormal,
		ToLevel:   types.LevelWarning,
		Score:     0.62,
	}
	err := repo.AppendEvent(ctx, e)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestEventRepository_AppendEvent_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.AppendEvent(ctx, &types.AlertEvent{ID: "evt_x", PatientID: "p-001"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

func TestEventRepository_ListEvents_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := &eventMockRows{
		data: []types.AlertEvent{
			{ID: "evt_2", PatientID: "p-001", Timestamp: now, FromLevel: types.LevelWarning, ToLevel: types.LevelCritical, Score: 0.85},
			{ID: "evt_1", PatientID: "p-001", Timestamp: now.Add(-3 * time.Minute), FromLevel: types.LevelNormal, ToLevel: types.LevelWarning, Score: 0.62},
		},
		idx: -1,
	}

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	results, err := repo.ListEvents(ctx, "p-001", 50)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "evt_2", results[0].ID)
	assert.Equal(t, types.LevelCritical, results[0].ToLevel)
	assert.True(t, results[0].Escalation())
	db.AssertExpectations(t)
}

func TestEventRepository_ListEvents_DefaultLimit(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepository(db)
	ctx := context.Background()

	rows := &eventMockRows{idx: -1}

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			assert.Equal(t, 100, sqlArgs[1])
		}).
		Return(rows, nil)

	_, err := repo.ListEvents(ctx, "p-001", 0)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestEventRepository_ListEventsBefore_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepository(db)
	ctx := context.Background()

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := &eventMockRows{
		data: []types.AlertEvent{
			{ID: "evt_old_1", PatientID: "p-001", Timestamp: cutoff.Add(-48 * time.Hour), FromLevel: types.LevelNormal, ToLevel: types.LevelWarning, Score: 0.55},
		},
		idx: -1,
	}

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	results, err := repo.ListEventsBefore(ctx, cutoff, 500)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "evt_old_1", results[0].ID)
	db.AssertExpectations(t)
}

func TestEventRepository_DeleteEvents_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 3"), nil)

	count, err := repo.DeleteEvents(ctx, []string{"evt_1", "evt_2", "evt_3"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	db.AssertExpectations(t)
}

func TestEventRepository_DeleteEvents_EmptyIDs(t *testing.T) {
	// No round trip for an empty batch.
	db := new(mockDBTX)
	repo := NewEventRepository(db)
	ctx := context.Background()

	count, err := repo.DeleteEvents(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	db.AssertExpectations(t)
}

func TestEventRepository_DeleteEvents_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("table locked"))

	_, err := repo.DeleteEvents(ctx, []string{"evt_1"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}
