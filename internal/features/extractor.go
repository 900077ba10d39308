// Package features converts raw sensor samples into the fixed-order feature
// vectors the risk model consumes. Extraction is pure: calibration, clamping,
// and imputation are deterministic functions of the sample, the patient's
// profile, and the last-known-good baseline.
package features

import (
	"breathguard/internal/types"
)

// Order is the exact feature order the model artifact expects. The scorer
// refuses to load an artifact whose feature list disagrees with this order.
var Order = []string{
	"humidity",
	"temperature",
	"mq2",
	"mq135",
	"dust",
	"age",
	"smoker_level",
	"allergy_present",
	"allergy_type",
	"occupation_risk",
}

// Domain-neutral raw defaults, used only when a field is missing and the
// patient has no recorded baseline for it. Using one marks the whole vector
// low-confidence.
const (
	defaultTemperatureC = 25.0
	defaultHumidityPct  = 50.0
	defaultDustADC      = 150.0
	defaultGasADC       = 100.0
)

// Extract converts a raw sample into the model's feature vector.
//
// Missing sensor fields are imputed from the patient baseline; if the
// baseline has never observed the channel either, a fixed neutral default is
// used and the vector is flagged low-confidence. A nil profile falls back to
// the neutral default profile.
//
// Extract fails only when the sample lacks a patient ID or timestamp; those
// are structurally required and cannot be imputed.
func Extract(s *types.RawSample, profile *types.PatientProfile, baseline *types.PatientBaseline) (types.FeatureVector, error) {
	if s == nil {
		return types.FeatureVector{}, types.MalformedSample("sample is nil")
	}
	if s.PatientID == "" {
		return types.FeatureVector{}, types.MalformedSample("sample has no patient id")
	}
	if s.Timestamp.IsZero() {
		return types.FeatureVector{}, types.MalformedSample("sample has no timestamp")
	}

	if profile == nil {
		profile = types.DefaultProfile(s.PatientID)
	}

	var fv types.FeatureVector

	resolve := func(name string, observed, base *float64, def float64) float64 {
		if observed != nil {
			return *observed
		}
		fv.Imputed = append(fv.Imputed, name)
		if base != nil {
			return *base
		}
		fv.LowConfidence = true
		return def
	}

	var (
		humRaw   = resolve("humidity", s.Humidity, baselineField(baseline, baselineHumidity), defaultHumidityPct)
		tempRaw  = resolve("temperature", s.Temperature, baselineField(baseline, baselineTemperature), defaultTemperatureC)
		mq2Raw   = resolve("mq2", s.GasMQ2, baselineField(baseline, baselineGasMQ2), defaultGasADC)
		mq135Raw = resolve("mq135", s.GasMQ135, baselineField(baseline, baselineGasMQ135), defaultGasADC)
		dustRaw  = resolve("dust", s.DustADC, baselineField(baseline, baselineDustADC), defaultDustADC)
	)

	allergyPresent := 0.0
	if profile.AllergyPresent {
		allergyPresent = 1.0
	}

	// Values follow Order exactly.
	fv.Values = []float64{
		calibrateHumidity(humRaw),
		calibrateTemperature(tempRaw),
		calibrateGas(mq2Raw),
		calibrateGas(mq135Raw),
		calibrateDust(dustRaw),
		float64(profile.Age),
		profile.Smoker.Code(),
		allergyPresent,
		profile.AllergyType.Code(),
		profile.Occupation.Code(),
	}

	return fv, nil
}

// baselineChannel selects one channel of the baseline record.
type baselineChannel int

const (
	baselineTemperature baselineChannel = iota
	baselineHumidity
	baselineDustADC
	baselineGasMQ2
	baselineGasMQ135
)

func baselineField(b *types.PatientBaseline, ch baselineChannel) *float64 {
	if b == nil {
		return nil
	}
	switch ch {
	case baselineTemperature:
		return b.Temperature
	case baselineHumidity:
		return b.Humidity
	case baselineDustADC:
		return b.DustADC
	case baselineGasMQ2:
		return b.GasMQ2
	case baselineGasMQ135:
		return b.GasMQ135
	}
	return nil
}
