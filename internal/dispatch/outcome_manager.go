package dispatch

import (
	"context"
	"fmt"

	"breathguard/internal/types"
)

// OutcomeRepository defines the minimal persistence interface required by
// the OutcomeManager. By depending on this narrow interface rather than a
// full repository, the manager is testable with lightweight mocks.
type OutcomeRepository interface {
	// InsertOutcomeIfNotExists performs an idempotent insert using
	// INSERT ... ON CONFLICT DO NOTHING. Returns whether the record was
	// newly created; when it was not, out is populated with the existing
	// record's state.
	InsertOutcomeIfNotExists(ctx context.Context, out *types.DispatchOutcome) (created bool, err error)

	// IncrementAttempt updates last attempt bookkeeping for an outcome.
	IncrementAttempt(ctx context.Context, outcomeID string) error

	// SetOutcomeSucceeded marks an outcome as succeeded with the provider
	// message ID and delivery time.
	SetOutcomeSucceeded(ctx context.Context, outcomeID string, providerMsgID string) error

	// UpdateOutcomeStatus updates status and last error atomically.
	UpdateOutcomeStatus(ctx context.Context, outcomeID string, status types.OutcomeStatus, reason string) error
}

// OutcomeID builds the deterministic outcome identifier for one event on one
// channel. Determinism is what makes crash-recovery replays idempotent.
func OutcomeID(eventID string, ch types.ChannelType) string {
	return fmt.Sprintf("out_%s_%s", eventID, ch)
}

// OutcomeManager wraps the repository with the business rules around
// dispatch outcome state transitions.
type OutcomeManager struct {
	repo   OutcomeRepository
	logger types.Logger
}

// NewOutcomeManager creates an OutcomeManager.
func NewOutcomeManager(repo OutcomeRepository, logger types.Logger) *OutcomeManager {
	return &OutcomeManager{repo: repo, logger: logger}
}

// EnsureOutcome performs an idempotent insert of the outcome record for
// event+channel. If a record already exists, its current state is returned
// with created=false so the caller can detect replays.
func (m *OutcomeManager) EnsureOutcome(ctx context.Context, eventID string, ch types.ChannelType) (*types.DispatchOutcome, bool, error) {
	out := &types.DispatchOutcome{
		ID:      OutcomeID(eventID, ch),
		EventID: eventID,
		Channel: ch,
		Status:  types.OutcomePending,
	}

	created, err := m.repo.InsertOutcomeIfNotExists(ctx, out)
	if err != nil {
		return nil, false, fmt.Errorf("EnsureOutcome: %w", err)
	}

	if created {
		m.logger.Info("dispatch outcome created",
			"outcome_id", out.ID,
			"event_id", eventID,
			"channel", string(ch),
		)
	}

	return out, created, nil
}

// RecordAttempt logs that the dispatcher is about to attempt a send.
func (m *OutcomeManager) RecordAttempt(ctx context.Context, outcomeID string) error {
	if err := m.repo.IncrementAttempt(ctx, outcomeID); err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	return nil
}

// MarkSuccess freezes the outcome as succeeded.
func (m *OutcomeManager) MarkSuccess(ctx context.Context, outcomeID string, providerMsgID string) error {
	if err := m.repo.SetOutcomeSucceeded(ctx, outcomeID, providerMsgID); err != nil {
		return fmt.Errorf("MarkSuccess: %w", err)
	}

	m.logger.Info("dispatch succeeded",
		"outcome_id", outcomeID,
		"provider_message_id", providerMsgID,
	)

	return nil
}

// MarkRetrying records a transient failure; the dispatcher will re-attempt
// after backoff.
func (m *OutcomeManager) MarkRetrying(ctx context.Context, outcomeID string, reason string) error {
	if err := m.repo.UpdateOutcomeStatus(ctx, outcomeID, types.OutcomeRetrying, reason); err != nil {
		return fmt.Errorf("MarkRetrying: %w", err)
	}

	m.logger.Warn("dispatch failed, will retry",
		"outcome_id", outcomeID,
		"reason", reason,
	)

	return nil
}

// MarkFailed freezes the outcome as permanently failed. The failure is
// surfaced to the audit trail and dashboard but never crashes the pipeline
// or blocks other channels.
func (m *OutcomeManager) MarkFailed(ctx context.Context, outcomeID string, reason string) error {
	if err := m.repo.UpdateOutcomeStatus(ctx, outcomeID, types.OutcomeFailed, reason); err != nil {
		return fmt.Errorf("MarkFailed: %w", err)
	}

	m.logger.Error("dispatch permanently failed",
		"outcome_id", outcomeID,
		"reason", reason,
	)

	return nil
}
