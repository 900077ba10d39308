package scoring

import (
	"math"
	"time"

	"breathguard/internal/types"
)

// Scorer maps feature vectors to risk scores using a loaded model artifact.
// The artifact is read-only after construction; Score is safe for concurrent
// use.
type Scorer struct {
	artifact *ModelArtifact
}

// NewScorer constructs a Scorer from a validated artifact.
func NewScorer(artifact *ModelArtifact) (*Scorer, error) {
	if err := artifact.Validate(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalModel,
			"model artifact failed validation", err)
	}
	return &Scorer{artifact: artifact}, nil
}

// NewScorerFromFile loads the artifact at path and wraps it in a Scorer.
func NewScorerFromFile(path string) (*Scorer, error) {
	artifact, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	return &Scorer{artifact: artifact}, nil
}

// Version returns the loaded model version.
func (s *Scorer) Version() string {
	return s.artifact.Version
}

// Score computes the risk probability for a feature vector. It is a pure
// function of the vector and the immutable artifact.
//
// A model output that is NaN, infinite, or outside [0,1] is clamped into
// range and flagged as an anomaly rather than failing: a hard failure here
// would silently stop alerting, and a degraded-but-present score is
// preferred over no score. The vector's low-confidence flag propagates onto
// the score so the alert policy can weight it conservatively.
func (s *Scorer) Score(patientID string, ts time.Time, fv types.FeatureVector) types.RiskScore {
	score := types.RiskScore{
		PatientID:     patientID,
		Timestamp:     ts,
		ModelVersion:  s.artifact.Version,
		LowConfidence: fv.LowConfidence,
	}

	p := s.predict(fv.Values)
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1 {
		score.ModelOutputAnomaly = true
		p = clampProbability(p)
	}

	score.Probability = p
	score.Label = types.LabelForProbability(p)
	return score
}

// predict evaluates the standardized logistic model.
func (s *Scorer) predict(values []float64) float64 {
	a := s.artifact
	if len(values) != len(a.Weights) {
		// A malformed vector cannot occur through the extractor; treat it
		// as an anomalous zero-information input.
		return math.NaN()
	}

	z := a.Intercept
	for i, v := range values {
		z += a.Weights[i] * (v - a.Means[i]) / a.Scales[i]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

func clampProbability(p float64) float64 {
	switch {
	case math.IsNaN(p):
		// Zero information: sit on the decision boundary midpoint rather
		// than the extremes so the policy neither escalates nor clears.
		return 0.5
	case p < 0 || math.IsInf(p, -1):
		return 0
	case p > 1 || math.IsInf(p, 1):
		return 1
	default:
		return p
	}
}
