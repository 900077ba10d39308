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

// Note: mockDBTX and mockRow defined here are reused by the other repository
// tests in this package.

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

func strPtr(s string) *string {
	return &s
}

// --- GetProfile ---

func TestPatientRepository_GetProfile_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "p-001"
			*dest[1].(*string) = "Hari"
			*dest[2].(*int) = 21
			*dest[3].(*string) = "male"
			*dest[4].(*types.SmokerClass) = types.SmokerPassive
			*dest[5].(*bool) = true
			*dest[6].(*types.AllergyClass) = types.AllergyDust
			*dest[7].(*types.OccupationClass) = types.OccupationIndoor
			*dest[8].(**string) = strPtr("+15550100")
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	p, err := repo.GetProfile(ctx, "p-001")
	require.NoError(t, err)
	assert.Equal(t, "p-001", p.PatientID)
	assert.Equal(t, "Hari", p.Name)
	assert.Equal(t, 21, p.Age)
	assert.True(t, p.AllergyPresent)
	assert.Equal(t, types.AllergyDust, p.AllergyType)
	assert.Equal(t, "+15550100", p.AlertPhone)
	db.AssertExpectations(t)
}

func TestPatientRepository_GetProfile_NullPhone(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "p-002"
			*dest[1].(*string) = "Asha"
			*dest[2].(*int) = 34
			*dest[3].(*string) = "female"
			*dest[4].(*types.SmokerClass) = types.SmokerNone
			*dest[5].(*bool) = false
			*dest[6].(*types.AllergyClass) = types.AllergyNone
			*dest[7].(*types.OccupationClass) = types.OccupationIndoor
			*dest[8].(**string) = nil
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	p, err := repo.GetProfile(ctx, "p-002")
	require.NoError(t, err)
	assert.Empty(t, p.AlertPhone)
	db.AssertExpectations(t)
}

func TestPatientRepository_GetProfile_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetProfile(ctx, "p-missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPatient, appErr.Code)
	db.AssertExpectations(t)
}

func TestPatientRepository_GetProfile_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.GetProfile(ctx, "p-001")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

// --- UpsertProfile ---

func TestPatientRepository_UpsertProfile_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			// alert_phone is $9 and must be NULL when unset
			assert.Nil(t, sqlArgs[8])
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	p := types.DefaultProfile("p-003")
	err := repo.UpsertProfile(ctx, p)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPatientRepository_UpsertProfile_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock"))

	err := repo.UpsertProfile(ctx, types.DefaultProfile("p-003"))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

// --- Baselines ---

func TestPatientRepository_GetBaseline_NotRecorded(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	b, err := repo.GetBaseline(ctx, "p-new")
	require.NoError(t, err, "missing baseline is not an error")
	assert.Nil(t, b)
	db.AssertExpectations(t)
}

func TestPatientRepository_GetBaseline_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	updatedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	temp := 26.5
	humidity := 48.0
	dust := 180.0
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "p-001"
			*dest[1].(**float64) = &temp
			*dest[2].(**float64) = &humidity
			*dest[3].(**float64) = &dust
			*dest[4].(**float64) = nil
			*dest[5].(**float64) = nil
			*dest[6].(*time.Time) = updatedAt
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	b, err := repo.GetBaseline(ctx, "p-001")
	require.NoError(t, err)
	require.NotNil(t, b)
	require.NotNil(t, b.Temperature)
	assert.Equal(t, 26.5, *b.Temperature)
	assert.Nil(t, b.GasMQ2, "channels never reported stay nil")
	assert.Equal(t, updatedAt, b.UpdatedAt)
	db.AssertExpectations(t)
}

func TestPatientRepository_UpsertBaseline_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	temp := 25.0
	humidity := 50.0
	b := &types.PatientBaseline{
		PatientID:   "p-001",
		Temperature: &temp,
		Humidity:    &humidity,
		UpdatedAt:   time.Now().UTC(),
	}
	err := repo.UpsertBaseline(ctx, b)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

// --- Policy overrides ---

func TestPatientRepository_GetPolicyOverride_UsesDefaultsWhenUnset(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	pc, err := repo.GetPolicyOverride(ctx, "p-001")
	require.NoError(t, err)
	assert.Nil(t, pc, "nil override means process-wide defaults apply")
	db.AssertExpectations(t)
}

func TestPatientRepository_GetPolicyOverride_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*float64) = 0.4
			*dest[1].(*float64) = 0.7
			*dest[2].(*int) = 2
			*dest[3].(*int) = 4
			*dest[4].(*float64) = 0.1
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	pc, err := repo.GetPolicyOverride(ctx, "p-001")
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, 0.4, pc.WarnThreshold)
	assert.Equal(t, 4, pc.ClearCount)
	db.AssertExpectations(t)
}

// --- Alert states ---

func TestPatientRepository_GetAlertState_NeverProcessed(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	s, err := repo.GetAlertState(ctx, "p-new")
	require.NoError(t, err)
	assert.Nil(t, s)
	db.AssertExpectations(t)
}

func TestPatientRepository_GetAlertState_NullTimestamps(t *testing.T) {
	// A freshly created state has never transitioned; both timestamp
	// columns are NULL and must scan to zero time.Time values.
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "p-001"
			*dest[1].(*types.AlertLevel) = types.LevelNormal
			*dest[2].(*float64) = 0
			*dest[3].(*int) = 0
			*dest[4].(**time.Time) = nil
			*dest[5].(*types.AlertLevel) = types.LevelNormal
			*dest[6].(**time.Time) = nil
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	s, err := repo.GetAlertState(ctx, "p-001")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, types.LevelNormal, s.Level)
	assert.True(t, s.LastTransitionAt.IsZero())
	assert.True(t, s.LastSampleAt.IsZero())
	db.AssertExpectations(t)
}

func TestPatientRepository_GetAlertState_Populated(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	transAt := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	sampleAt := time.Date(2026, 3, 1, 10, 45, 0, 0, time.UTC)
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "p-001"
			*dest[1].(*types.AlertLevel) = types.LevelWarning
			*dest[2].(*float64) = 1.5
			*dest[3].(*int) = 0
			*dest[4].(**time.Time) = &transAt
			*dest[5].(*types.AlertLevel) = types.LevelWarning
			*dest[6].(**time.Time) = &sampleAt
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	s, err := repo.GetAlertState(ctx, "p-001")
	require.NoError(t, err)
	assert.Equal(t, types.LevelWarning, s.Level)
	assert.Equal(t, 1.5, s.HighStreak)
	assert.Equal(t, transAt, s.LastTransitionAt)
	assert.Equal(t, sampleAt, s.LastSampleAt)
	db.AssertExpectations(t)
}

func TestPatientRepository_SaveAlertState_ZeroTimesAsNull(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			// last_transition_at ($5) and last_sample_at ($7)
			assert.Nil(t, sqlArgs[4])
			assert.Nil(t, sqlArgs[6])
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	s := types.NewAlertState("p-001")
	err := repo.SaveAlertState(ctx, &s)
	require.NoError(t, err)
	db.AssertExpectations(t)
}
