package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"breathguard/internal/types"
)

// ScoreRepository provides append and read access to the risk_scores table.
// Scores are immutable once appended.
type ScoreRepository struct {
	db DBTX
}

// NewScoreRepository creates a ScoreRepository backed by the given database
// connection (pool or transaction).
func NewScoreRepository(db DBTX) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// AppendScore inserts one risk score record.
func (r *ScoreRepository) AppendScore(ctx context.Context, s *types.RiskScore) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO risk_scores
		 (patient_id, ts, probability, model_version, label,
		  low_confidence, model_output_anomaly)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.PatientID, s.Timestamp, s.Probability, s.ModelVersion,
		string(s.Label), s.LowConfidence, s.ModelOutputAnomaly,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append risk score", err)
	}
	return nil
}

// LatestScore returns the most recent score for a patient.
func (r *ScoreRepository) LatestScore(ctx context.Context, patientID string) (*types.RiskScore, error) {
	var s types.RiskScore
	err := r.db.QueryRow(ctx,
		`SELECT patient_id, ts, probability, model_version, label,
		        low_confidence, model_output_anomaly
		 FROM risk_scores
		 WHERE patient_id = $1
		 ORDER BY ts DESC
		 LIMIT 1`,
		patientID,
	).Scan(&s.PatientID, &s.Timestamp, &s.Probability, &s.ModelVersion,
		&s.Label, &s.LowConfidence, &s.ModelOutputAnomaly)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundScore, "no scores recorded for patient", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get latest score", err)
	}
	return &s, nil
}

// RecentScores returns up to limit scores for a patient, newest first.
// Used by the dashboard graphs.
func (r *ScoreRepository) RecentScores(ctx context.Context, patientID string, limit int) ([]types.RiskScore, error) {
	if limit <= 0 || limit > 300 {
		limit = 300
	}

	rows, err := r.db.Query(ctx,
		`SELECT patient_id, ts, probability, model_version, label,
		        low_confidence, model_output_anomaly
		 FROM risk_scores
		 WHERE patient_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`,
		patientID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list recent scores", err)
	}
	defer rows.Close()

	var results []types.RiskScore
	for rows.Next() {
		var s types.RiskScore
		if err := rows.Scan(&s.PatientID, &s.Timestamp, &s.Probability,
			&s.ModelVersion, &s.Label, &s.LowConfidence, &s.ModelOutputAnomaly); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan risk score", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate risk scores", err)
	}
	return results, nil
}
