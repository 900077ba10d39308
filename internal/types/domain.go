// Package types defines the domain model shared by every BreathGuard
// component: sensor samples, feature vectors, risk scores, the per-patient
// alert state machine data, dispatch outcomes, and the platform-wide error
// and logging contracts.
package types

import "time"

// RawSample is a single reading tuple produced by the sensing node.
// Numeric fields are pointers because any sensor may drop out of a reading;
// a nil field is imputed downstream, never rejected. A sample is immutable
// once created.
type RawSample struct {
	PatientID string    `json:"patient_id"`
	Timestamp time.Time `json:"timestamp"`

	// Raw channel readings. Temperature in degrees Celsius and humidity in
	// percent arrive pre-converted by the node firmware; dust and the two
	// gas channels arrive as 10-bit ADC counts and are calibrated by the
	// feature extractor.
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	DustADC     *float64 `json:"dust_adc,omitempty"`
	GasMQ2      *float64 `json:"gas_mq2,omitempty"`
	GasMQ135    *float64 `json:"gas_mq135,omitempty"`
}

// FeatureVector is the model input derived from one RawSample plus the
// patient profile. Values are ordered exactly as the model artifact's
// feature list; the vector is derived data and never mutated independently.
type FeatureVector struct {
	Values []float64 `json:"values"`

	// LowConfidence is set when any sensor feature was imputed from a
	// domain-neutral default because no patient baseline existed.
	LowConfidence bool `json:"low_confidence"`

	// Imputed lists the feature names that were filled from baseline or
	// default rather than observed, for audit visibility.
	Imputed []string `json:"imputed,omitempty"`
}

// RiskScore is the calibrated output of the scorer for one sample.
// Immutable; exactly one per processed sample.
type RiskScore struct {
	PatientID    string    `json:"patient_id"`
	Timestamp    time.Time `json:"timestamp"`
	Probability  float64   `json:"probability"`
	ModelVersion string    `json:"model_version"`
	Label        RiskLabel `json:"label"`

	// Soft flags. These propagate as data, never as errors.
	LowConfidence      bool `json:"low_confidence,omitempty"`
	ModelOutputAnomaly bool `json:"model_output_anomaly,omitempty"`
}

// AlertState is the per-patient state machine snapshot. It is owned
// exclusively by the alert policy running inside the patient's serialized
// pipeline slot; no other component mutates it.
type AlertState struct {
	PatientID string     `json:"patient_id"`
	Level     AlertLevel `json:"level"`

	// HighStreak accumulates consecutive qualifying scores toward
	// escalation. It is a float because low-confidence scores contribute
	// half weight.
	HighStreak float64 `json:"high_streak"`

	// LowStreak counts consecutive qualifying scores toward de-escalation.
	LowStreak int `json:"low_streak"`

	LastTransitionAt    time.Time  `json:"last_transition_at"`
	LastDispatchedLevel AlertLevel `json:"last_dispatched_level"`

	// LastSampleAt is the timestamp of the most recently processed sample,
	// used to drop out-of-order arrivals that would corrupt the streaks.
	LastSampleAt time.Time `json:"last_sample_at"`
}

// NewAlertState returns the initial state for a patient: NORMAL with zero
// streaks.
func NewAlertState(patientID string) AlertState {
	return AlertState{
		PatientID:           patientID,
		Level:               LevelNormal,
		LastDispatchedLevel: LevelNormal,
	}
}

// AlertEvent records one level transition. Immutable, appended to the audit
// log, totally ordered per patient.
type AlertEvent struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patient_id"`
	Timestamp time.Time  `json:"timestamp"`
	FromLevel AlertLevel `json:"from_level"`
	ToLevel   AlertLevel `json:"to_level"`
	Score     float64    `json:"score"`
}

// Escalation reports whether the event moved the patient to a higher level.
func (e *AlertEvent) Escalation() bool {
	return e.ToLevel.Rank() > e.FromLevel.Rank()
}

// DispatchOutcome tracks delivery of one AlertEvent on one channel. Mutable
// while retrying, frozen once Status is terminal.
type DispatchOutcome struct {
	ID           string        `json:"id"`
	EventID      string        `json:"event_id"`
	Channel      ChannelType   `json:"channel"`
	Status       OutcomeStatus `json:"status"`
	AttemptCount int           `json:"attempt_count"`
	LastError    string        `json:"last_error,omitempty"`
	DeliveredAt  *time.Time    `json:"delivered_at,omitempty"`
}

// PatientProfile holds the static patient attributes the model consumes and
// the SMS destination for critical alerts.
type PatientProfile struct {
	PatientID      string          `json:"patient_id"`
	Name           string          `json:"name"`
	Age            int             `json:"age"`
	Gender         string          `json:"gender"`
	Smoker         SmokerClass     `json:"smoker"`
	AllergyPresent bool            `json:"allergy_present"`
	AllergyType    AllergyClass    `json:"allergy_type"`
	Occupation     OccupationClass `json:"occupation"`
	AlertPhone     string          `json:"alert_phone,omitempty"`
}

// DefaultProfile returns the neutral profile used when a sample arrives for
// a patient with no stored profile. Scoring proceeds rather than failing;
// missed alerting is the worst failure mode.
func DefaultProfile(patientID string) *PatientProfile {
	return &PatientProfile{
		PatientID:   patientID,
		Age:         21,
		Smoker:      SmokerNone,
		AllergyType: AllergyNone,
		Occupation:  OccupationIndoor,
	}
}

// PatientBaseline holds the last-known-good sensor values per channel, used
// to impute dropped readings. Nil fields have never been observed.
type PatientBaseline struct {
	PatientID   string    `json:"patient_id"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	DustADC     *float64  `json:"dust_adc,omitempty"`
	GasMQ2      *float64  `json:"gas_mq2,omitempty"`
	GasMQ135    *float64  `json:"gas_mq135,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Merge folds observed values from a sample into the baseline, returning
// true if anything changed.
func (b *PatientBaseline) Merge(s *RawSample) bool {
	changed := false
	update := func(dst **float64, src *float64) {
		if src != nil {
			v := *src
			*dst = &v
			changed = true
		}
	}
	update(&b.Temperature, s.Temperature)
	update(&b.Humidity, s.Humidity)
	update(&b.DustADC, s.DustADC)
	update(&b.GasMQ2, s.GasMQ2)
	update(&b.GasMQ135, s.GasMQ135)
	if changed {
		b.UpdatedAt = s.Timestamp
	}
	return changed
}

// PolicyConfig holds the thresholds and windows driving the alert state
// machine. Per-patient overrides replace the process-wide defaults wholesale.
type PolicyConfig struct {
	WarnThreshold float64 `json:"warn_threshold"`
	CritThreshold float64 `json:"crit_threshold"`

	// EscalateCount is the consecutive-qualifying-score weight required to
	// move one level up; ClearCount the count required to move one down.
	EscalateCount int `json:"escalate_count"`
	ClearCount    int `json:"clear_count"`

	// Hysteresis is subtracted from the current level's threshold when
	// testing de-escalation, preventing flapping at the boundary.
	Hysteresis float64 `json:"hysteresis"`
}

// DefaultPolicyConfig returns the patient-independent default windows.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		WarnThreshold: 0.5,
		CritThreshold: 0.8,
		EscalateCount: 3,
		ClearCount:    3,
		Hysteresis:    0.05,
	}
}

// Validate checks the structural invariants of a policy configuration.
func (c PolicyConfig) Validate() error {
	if c.WarnThreshold <= 0 || c.CritThreshold >= 1 || c.WarnThreshold >= c.CritThreshold {
		return NewAppError(ErrCodeValidationThresholdRange,
			"thresholds must satisfy 0 < warn < crit < 1", nil)
	}
	if c.EscalateCount < 1 || c.ClearCount < 1 {
		return NewAppError(ErrCodeValidationThresholdRange,
			"escalate and clear counts must be at least 1", nil)
	}
	if c.Hysteresis < 0 || c.Hysteresis >= c.WarnThreshold {
		return NewAppError(ErrCodeValidationThresholdRange,
			"hysteresis must be non-negative and below the warn threshold", nil)
	}
	return nil
}

// StateSnapshot bundles the latest score and alert state for a patient; the
// unit exposed to the dashboard and cloud-mirror consumers.
type StateSnapshot struct {
	Score RiskScore  `json:"score"`
	State AlertState `json:"state"`
}
