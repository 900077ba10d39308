package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"breathguard/internal/types"
)

// PatientRepository provides data access for patient profiles, baselines,
// per-patient alert-policy overrides, and persisted alert states.
type PatientRepository struct {
	db DBTX
}

// NewPatientRepository creates a PatientRepository backed by the given
// database connection (pool or transaction).
func NewPatientRepository(db DBTX) *PatientRepository {
	return &PatientRepository{db: db}
}

// GetProfile retrieves a patient profile. Returns a not-found AppError when
// the patient does not exist; callers that prefer graceful degradation fall
// back to types.DefaultProfile.
func (r *PatientRepository) GetProfile(ctx context.Context, patientID string) (*types.PatientProfile, error) {
	var (
		p          types.PatientProfile
		alertPhone *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT patient_id, name, age, gender, smoker, allergy_present,
		        allergy_type, occupation, alert_phone
		 FROM patients
		 WHERE patient_id = $1`,
		patientID,
	).Scan(&p.PatientID, &p.Name, &p.Age, &p.Gender, &p.Smoker,
		&p.AllergyPresent, &p.AllergyType, &p.Occupation, &alertPhone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundPatient, "patient not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get patient profile", err)
	}
	if alertPhone != nil {
		p.AlertPhone = *alertPhone
	}
	return &p, nil
}

// UpsertProfile creates or replaces a patient profile.
func (r *PatientRepository) UpsertProfile(ctx context.Context, p *types.PatientProfile) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO patients
		 (patient_id, name, age, gender, smoker, allergy_present,
		  allergy_type, occupation, alert_phone, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (patient_id) DO UPDATE SET
			name = EXCLUDED.name,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			smoker = EXCLUDED.smoker,
			allergy_present = EXCLUDED.allergy_present,
			allergy_type = EXCLUDED.allergy_type,
			occupation = EXCLUDED.occupation,
			alert_phone = EXCLUDED.alert_phone,
			updated_at = NOW()`,
		p.PatientID, p.Name, p.Age, p.Gender, string(p.Smoker),
		p.AllergyPresent, string(p.AllergyType), string(p.Occupation),
		nilIfEmpty(p.AlertPhone),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert patient profile", err)
	}
	return nil
}

// GetBaseline retrieves the last-known-good sensor values for a patient.
// A patient with no recorded baseline yields (nil, nil); imputation then
// uses neutral defaults and flags the vector low-confidence.
func (r *PatientRepository) GetBaseline(ctx context.Context, patientID string) (*types.PatientBaseline, error) {
	var b types.PatientBaseline
	err := r.db.QueryRow(ctx,
		`SELECT patient_id, temperature, humidity, dust_adc, gas_mq2, gas_mq135, updated_at
		 FROM patient_baselines
		 WHERE patient_id = $1`,
		patientID,
	).Scan(&b.PatientID, &b.Temperature, &b.Humidity, &b.DustADC,
		&b.GasMQ2, &b.GasMQ135, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get patient baseline", err)
	}
	return &b, nil
}

// UpsertBaseline writes the merged last-known-good values for a patient.
func (r *PatientRepository) UpsertBaseline(ctx context.Context, b *types.PatientBaseline) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO patient_baselines
		 (patient_id, temperature, humidity, dust_adc, gas_mq2, gas_mq135, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (patient_id) DO UPDATE SET
			temperature = EXCLUDED.temperature,
			humidity = EXCLUDED.humidity,
			dust_adc = EXCLUDED.dust_adc,
			gas_mq2 = EXCLUDED.gas_mq2,
			gas_mq135 = EXCLUDED.gas_mq135,
			updated_at = EXCLUDED.updated_at`,
		b.PatientID, b.Temperature, b.Humidity, b.DustADC, b.GasMQ2,
		b.GasMQ135, b.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert patient baseline", err)
	}
	return nil
}

// GetPolicyOverride retrieves the per-patient alert windows, or (nil, nil)
// when the patient uses the process-wide defaults.
func (r *PatientRepository) GetPolicyOverride(ctx context.Context, patientID string) (*types.PolicyConfig, error) {
	var pc types.PolicyConfig
	err := r.db.QueryRow(ctx,
		`SELECT warn_threshold, crit_threshold, escalate_count, clear_count, hysteresis
		 FROM patients
		 WHERE patient_id = $1 AND warn_threshold IS NOT NULL`,
		patientID,
	).Scan(&pc.WarnThreshold, &pc.CritThreshold, &pc.EscalateCount,
		&pc.ClearCount, &pc.Hysteresis)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get policy override", err)
	}
	return &pc, nil
}

// GetAlertState loads the persisted alert state for a patient, or (nil, nil)
// when the patient has never been processed.
func (r *PatientRepository) GetAlertState(ctx context.Context, patientID string) (*types.AlertState, error) {
	var (
		s              types.AlertState
		lastTransition *time.Time
		lastSample     *time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT patient_id, level, high_streak, low_streak,
		        last_transition_at, last_dispatched_level, last_sample_at
		 FROM alert_states
		 WHERE patient_id = $1`,
		patientID,
	).Scan(&s.PatientID, &s.Level, &s.HighStreak, &s.LowStreak,
		&lastTransition, &s.LastDispatchedLevel, &lastSample)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get alert state", err)
	}
	if lastTransition != nil {
		s.LastTransitionAt = *lastTransition
	}
	if lastSample != nil {
		s.LastSampleAt = *lastSample
	}
	return &s, nil
}

// SaveAlertState persists an alert state snapshot.
func (r *PatientRepository) SaveAlertState(ctx context.Context, s *types.AlertState) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO alert_states
		 (patient_id, level, high_streak, low_streak,
		  last_transition_at, last_dispatched_level, last_sample_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (patient_id) DO UPDATE SET
			level = EXCLUDED.level,
			high_streak = EXCLUDED.high_streak,
			low_streak = EXCLUDED.low_streak,
			last_transition_at = EXCLUDED.last_transition_at,
			last_dispatched_level = EXCLUDED.last_dispatched_level,
			last_sample_at = EXCLUDED.last_sample_at`,
		s.PatientID, string(s.Level), s.HighStreak, s.LowStreak,
		nilIfZeroTime(s.LastTransitionAt), string(s.LastDispatchedLevel),
		nilIfZeroTime(s.LastSampleAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save alert state", err)
	}
	return nil
}
