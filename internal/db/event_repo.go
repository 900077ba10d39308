package db

import (
	"context"
	"time"

	"breathguard/internal/types"
)

// EventRepository provides access to the alert_events audit log. The log is
// append-only and never reordered; events for a patient are totally ordered
// by timestamp.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates an EventRepository backed by the given database
// connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// AppendEvent inserts one alert event into the audit log.
func (r *EventRepository) AppendEvent(ctx context.Context, e *types.AlertEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO alert_events
		 (id, patient_id, ts, from_level, to_level, score)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.PatientID, e.Timestamp, string(e.FromLevel),
		string(e.ToLevel), e.Score,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append alert event", err)
	}
	return nil
}

// ListEvents returns up to limit events for a patient, newest first.
func (r *EventRepository) ListEvents(ctx context.Context, patientID string, limit int) ([]types.AlertEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, patient_id, ts, from_level, to_level, score
		 FROM alert_events
		 WHERE patient_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`,
		patientID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alert events", err)
	}
	defer rows.Close()

	var results []types.AlertEvent
	for rows.Next() {
		var e types.AlertEvent
		if err := rows.Scan(&e.ID, &e.PatientID, &e.Timestamp,
			&e.FromLevel, &e.ToLevel, &e.Score); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert event", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate alert events", err)
	}
	return results, nil
}

// ListEventsBefore returns up to limit events older than the cutoff, oldest
// first. Used by the audit archiver.
func (r *EventRepository) ListEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.AlertEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, patient_id, ts, from_level, to_level, score
		 FROM alert_events
		 WHERE ts < $1
		 ORDER BY ts ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list archivable events", err)
	}
	defer rows.Close()

	var results []types.AlertEvent
	for rows.Next() {
		var e types.AlertEvent
		if err := rows.Scan(&e.ID, &e.PatientID, &e.Timestamp,
			&e.FromLevel, &e.ToLevel, &e.Score); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert event", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate alert events", err)
	}
	return results, nil
}

// DeleteEvents removes the given events by ID after successful archival.
func (r *EventRepository) DeleteEvents(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM alert_events WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived events", err)
	}
	return tag.RowsAffected(), nil
}
