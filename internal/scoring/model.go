// Package scoring wraps the versioned, immutable risk-model artifact and maps
// feature vectors to calibrated risk probabilities. The artifact is loaded
// once at process start; swapping models requires constructing a new Scorer,
// never mutating a loaded one, so concurrent scoring can share the artifact
// without locks.
package scoring

import (
	"encoding/json"
	"fmt"
	"os"

	"breathguard/internal/features"
	"breathguard/internal/types"
)

// ModelArtifact is the on-disk representation of a trained model: a
// standardized logistic model with per-feature weights. The artifact is
// produced by the offline training pipeline; this service only reads it.
type ModelArtifact struct {
	Version   string    `json:"version"`
	Features  []string  `json:"features"`
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// Validate checks the structural invariants of an artifact: version present,
// feature list identical to the extractor's order, and aligned non-degenerate
// coefficient arrays.
func (a *ModelArtifact) Validate() error {
	if a.Version == "" {
		return fmt.Errorf("model artifact has no version")
	}
	if len(a.Features) != len(features.Order) {
		return fmt.Errorf("model artifact has %d features, expected %d", len(a.Features), len(features.Order))
	}
	for i, name := range a.Features {
		if name != features.Order[i] {
			return fmt.Errorf("model artifact feature %d is %q, expected %q", i, name, features.Order[i])
		}
	}
	if len(a.Means) != len(a.Features) || len(a.Scales) != len(a.Features) || len(a.Weights) != len(a.Features) {
		return fmt.Errorf("model artifact coefficient arrays are misaligned")
	}
	for i, s := range a.Scales {
		if s <= 0 {
			return fmt.Errorf("model artifact scale %d (%s) must be positive", i, a.Features[i])
		}
	}
	return nil
}

// LoadArtifact reads and validates a model artifact from a JSON file.
func LoadArtifact(path string) (*ModelArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalModel,
			fmt.Sprintf("failed to read model artifact %s", path), err)
	}

	var artifact ModelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalModel,
			"failed to parse model artifact", err)
	}

	if err := artifact.Validate(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalModel,
			"model artifact failed validation", err)
	}

	return &artifact, nil
}
