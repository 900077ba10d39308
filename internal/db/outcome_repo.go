package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"breathguard/internal/types"
)

// OutcomeRepository provides access to the dispatch_outcomes table. It
// implements dispatch.OutcomeRepository; the idempotent insert is what makes
// crash-recovery replays safe.
type OutcomeRepository struct {
	db DBTX
}

// NewOutcomeRepository creates an OutcomeRepository backed by the given
// database connection (pool or transaction).
func NewOutcomeRepository(db DBTX) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// InsertOutcomeIfNotExists performs an idempotent insert using
// INSERT ... ON CONFLICT DO NOTHING. When the record already exists, out is
// refreshed with the stored state and created=false is returned.
func (r *OutcomeRepository) InsertOutcomeIfNotExists(ctx context.Context, out *types.DispatchOutcome) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO dispatch_outcomes
		 (id, event_id, channel, status, attempt_count, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		out.ID, out.EventID, string(out.Channel), string(out.Status),
		out.AttemptCount, nilIfEmpty(out.LastError),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert dispatch outcome", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	existing, err := r.GetOutcome(ctx, out.ID)
	if err != nil {
		return false, err
	}
	*out = *existing
	return false, nil
}

// GetOutcome retrieves one dispatch outcome by ID.
func (r *OutcomeRepository) GetOutcome(ctx context.Context, outcomeID string) (*types.DispatchOutcome, error) {
	var (
		out       types.DispatchOutcome
		lastError *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, event_id, channel, status, attempt_count, last_error, delivered_at
		 FROM dispatch_outcomes
		 WHERE id = $1`,
		outcomeID,
	).Scan(&out.ID, &out.EventID, &out.Channel, &out.Status,
		&out.AttemptCount, &lastError, &out.DeliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundOutcome, "dispatch outcome not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get dispatch outcome", err)
	}
	if lastError != nil {
		out.LastError = *lastError
	}
	return &out, nil
}

// IncrementAttempt updates the attempt bookkeeping for an outcome.
func (r *OutcomeRepository) IncrementAttempt(ctx context.Context, outcomeID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatch_outcomes SET
			attempt_count = attempt_count + 1,
			last_attempt_at = NOW()
		 WHERE id = $1`,
		outcomeID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOutcome, "dispatch outcome not found", nil)
	}
	return nil
}

// SetOutcomeSucceeded freezes an outcome as succeeded.
func (r *OutcomeRepository) SetOutcomeSucceeded(ctx context.Context, outcomeID string, providerMsgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatch_outcomes SET
			status = 'succeeded',
			last_error = NULL,
			provider_message_id = $1,
			delivered_at = NOW()
		 WHERE id = $2`,
		nilIfEmpty(providerMsgID), outcomeID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark outcome succeeded", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOutcome, "dispatch outcome not found", nil)
	}
	return nil
}

// UpdateOutcomeStatus updates status and last error atomically.
func (r *OutcomeRepository) UpdateOutcomeStatus(ctx context.Context, outcomeID string, status types.OutcomeStatus, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatch_outcomes SET
			status = $1,
			last_error = $2
		 WHERE id = $3`,
		string(status), nilIfEmpty(reason), outcomeID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update outcome status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOutcome, "dispatch outcome not found", nil)
	}
	return nil
}

// ListFailedOutcomes returns permanently failed outcomes for a patient's
// events, newest first. Surfaced to the dashboard as the alert-delivery
// failure indicator.
func (r *OutcomeRepository) ListFailedOutcomes(ctx context.Context, patientID string, limit int) ([]types.DispatchOutcome, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT o.id, o.event_id, o.channel, o.status, o.attempt_count,
		        o.last_error, o.delivered_at
		 FROM dispatch_outcomes o
		 JOIN alert_events e ON e.id = o.event_id
		 WHERE e.patient_id = $1 AND o.status = 'failed'
		 ORDER BY e.ts DESC
		 LIMIT $2`,
		patientID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list failed outcomes", err)
	}
	defer rows.Close()

	var results []types.DispatchOutcome
	for rows.Next() {
		var (
			out       types.DispatchOutcome
			lastError *string
		)
		if err := rows.Scan(&out.ID, &out.EventID, &out.Channel, &out.Status,
			&out.AttemptCount, &lastError, &out.DeliveredAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dispatch outcome", err)
		}
		if lastError != nil {
			out.LastError = *lastError
		}
		results = append(results, out)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate dispatch outcomes", err)
	}
	return results, nil
}
