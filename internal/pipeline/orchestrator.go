// Package pipeline wires sample ingestion through feature extraction,
// scoring, the alert policy, and dispatch. Each patient gets a dedicated
// worker goroutine fed by a bounded mailbox, so samples for one patient are
// processed strictly in arrival order while patients proceed independently.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"breathguard/internal/dispatch"
	"breathguard/internal/features"
	"breathguard/internal/livestate"
	"breathguard/internal/policy"
	"breathguard/internal/types"
)

// dispatchTimeout bounds one event's full delivery cycle, retries included.
const dispatchTimeout = 2 * time.Minute

// PatientStore abstracts the patient-facing persistence the pipeline needs.
type PatientStore interface {
	GetProfile(ctx context.Context, patientID string) (*types.PatientProfile, error)
	GetBaseline(ctx context.Context, patientID string) (*types.PatientBaseline, error)
	UpsertBaseline(ctx context.Context, b *types.PatientBaseline) error
	GetPolicyOverride(ctx context.Context, patientID string) (*types.PolicyConfig, error)
	GetAlertState(ctx context.Context, patientID string) (*types.AlertState, error)
	SaveAlertState(ctx context.Context, s *types.AlertState) error
}

// ScoreStore abstracts the risk score log.
type ScoreStore interface {
	AppendScore(ctx context.Context, s *types.RiskScore) error
	LatestScore(ctx context.Context, patientID string) (*types.RiskScore, error)
}

// EventStore abstracts the alert event audit log.
type EventStore interface {
	AppendEvent(ctx context.Context, e *types.AlertEvent) error
}

// Scorer produces a risk score from a feature vector.
type Scorer interface {
	Score(patientID string, ts time.Time, fv types.FeatureVector) types.RiskScore
	Version() string
}

// EventDispatcher fans an alert event out to its delivery channels.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *types.AlertEvent, profile *types.PatientProfile) []types.DispatchOutcome
}

// StateMirror is the live-state cache write/read surface.
type StateMirror interface {
	Publish(ctx context.Context, snap types.StateSnapshot) error
	Get(ctx context.Context, patientID string) (*types.StateSnapshot, error)
}

// EscalationNotifier publishes critical escalations to downstream consumers.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, event *types.AlertEvent) error
}

// Metrics records pipeline observability signals.
type Metrics interface {
	RecordSampleProcessed(ctx context.Context, level types.AlertLevel, d time.Duration)
	RecordStaleDrop(ctx context.Context)
	RecordTransition(ctx context.Context, to types.AlertLevel)
}

// NopMetrics discards all pipeline metrics.
type NopMetrics struct{}

func (NopMetrics) RecordSampleProcessed(context.Context, types.AlertLevel, time.Duration) {}
func (NopMetrics) RecordStaleDrop(context.Context)                                        {}
func (NopMetrics) RecordTransition(context.Context, types.AlertLevel)                     {}

// OrchestratorConfig holds the dependencies for creating an Orchestrator.
type OrchestratorConfig struct {
	Patients      PatientStore
	Scores        ScoreStore
	Events        EventStore
	Scorer        Scorer
	Dispatcher    EventDispatcher
	Mirror        StateMirror
	Escalations   EscalationNotifier
	Metrics       Metrics
	DefaultPolicy types.PolicyConfig
	MailboxSize   int
	Logger        types.Logger
	Clock         types.Clock
}

// Orchestrator owns the per-patient workers and exposes the latest-state
// query surface.
type Orchestrator struct {
	patients      PatientStore
	scores        ScoreStore
	events        EventStore
	scorer        Scorer
	dispatcher    EventDispatcher
	mirror        StateMirror
	escalations   EscalationNotifier
	metrics       Metrics
	defaultPolicy types.PolicyConfig
	mailboxSize   int
	logger        types.Logger
	clock         types.Clock

	mu        sync.Mutex
	mailboxes map[string]chan *types.RawSample
	closed    bool

	workers    sync.WaitGroup
	dispatches sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. Workers spawn lazily on the first
// sample for each patient.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	return &Orchestrator{
		patients:      cfg.Patients,
		scores:        cfg.Scores,
		events:        cfg.Events,
		scorer:        cfg.Scorer,
		dispatcher:    cfg.Dispatcher,
		mirror:        cfg.Mirror,
		escalations:   cfg.Escalations,
		metrics:       cfg.Metrics,
		defaultPolicy: cfg.DefaultPolicy,
		mailboxSize:   cfg.MailboxSize,
		logger:        cfg.Logger,
		clock:         cfg.Clock,
		mailboxes:     make(map[string]chan *types.RawSample),
	}
}

// Submit enqueues a sample for its patient's worker. It returns a
// malformed-sample error for structurally invalid input, a backpressure
// error when the patient's mailbox is full, and a shutdown error after
// Shutdown has begun. Enqueue order is delivery order.
func (o *Orchestrator) Submit(_ context.Context, sample *types.RawSample) error {
	if sample == nil {
		return types.MalformedSample("sample is nil")
	}
	if sample.PatientID == "" {
		return types.MalformedSample("missing patient_id")
	}
	if sample.Timestamp.IsZero() {
		return types.MalformedSample("missing timestamp")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return types.NewAppError(types.ErrCodeInternalShutdown, "pipeline is shutting down", nil)
	}

	ch, ok := o.mailboxes[sample.PatientID]
	if !ok {
		ch = make(chan *types.RawSample, o.mailboxSize)
		o.mailboxes[sample.PatientID] = ch
		o.workers.Add(1)
		go o.worker(sample.PatientID, ch)
	}

	select {
	case ch <- sample:
		return nil
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeRateLimitedMailboxFull,
			"patient mailbox is full", nil,
			map[string]any{"patient_id": sample.PatientID})
	}
}

func (o *Orchestrator) worker(patientID string, ch <-chan *types.RawSample) {
	defer o.workers.Done()
	log := o.logger.With("patient_id", patientID)
	for sample := range ch {
		if err := o.process(context.Background(), sample, log); err != nil {
			log.Error("sample processing failed", "error", err)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, sample *types.RawSample, log types.Logger) error {
	started := o.clock.Now()

	state, err := o.loadState(ctx, sample.PatientID)
	if err != nil {
		return err
	}

	// Replays and out-of-order arrivals never reach the state machine.
	if !state.LastSampleAt.IsZero() && !sample.Timestamp.After(state.LastSampleAt) {
		o.metrics.RecordStaleDrop(ctx)
		log.Warn("dropping stale sample",
			"sample_ts", sample.Timestamp, "last_sample_ts", state.LastSampleAt)
		return nil
	}

	profile := o.loadProfile(ctx, sample.PatientID, log)
	baseline, err := o.patients.GetBaseline(ctx, sample.PatientID)
	if err != nil {
		log.Warn("baseline load failed, imputing from defaults", "error", err)
		baseline = nil
	}

	fv, err := features.Extract(sample, profile, baseline)
	if err != nil {
		return err
	}

	score := o.scorer.Score(sample.PatientID, sample.Timestamp, fv)
	if score.ModelOutputAnomaly {
		log.Warn("model output anomaly, probability clamped",
			"probability", score.Probability)
	}
	if err := o.scores.AppendScore(ctx, &score); err != nil {
		// The alerting path continues on a log write failure.
		log.Error("failed to persist risk score", "error", err)
	}

	o.mergeBaseline(ctx, baseline, sample, log)

	pcfg := o.policyFor(ctx, sample.PatientID, log)
	newState, event := policy.Evaluate(*state, score, pcfg)

	if event != nil {
		event.ID = "evt_" + uuid.NewString()
		newState.LastDispatchedLevel = event.ToLevel
		if err := o.events.AppendEvent(ctx, event); err != nil {
			log.Error("failed to persist alert event", "event_id", event.ID, "error", err)
		}
		o.metrics.RecordTransition(ctx, event.ToLevel)
		o.launchDispatch(event, profile, log)
	}

	if err := o.patients.SaveAlertState(ctx, &newState); err != nil {
		log.Error("failed to persist alert state", "error", err)
	}

	if o.mirror != nil {
		snap := types.StateSnapshot{Score: score, State: newState}
		if err := o.mirror.Publish(ctx, snap); err != nil {
			log.Warn("live state publish failed", "error", err)
		}
	}

	o.metrics.RecordSampleProcessed(ctx, newState.Level, o.clock.Now().Sub(started))
	return nil
}

// launchDispatch runs delivery in the background so slow or retrying
// channels never block the patient's sample stream.
func (o *Orchestrator) launchDispatch(event *types.AlertEvent, profile *types.PatientProfile, log types.Logger) {
	o.dispatches.Add(1)
	go func() {
		defer o.dispatches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		outcomes := o.dispatcher.Dispatch(ctx, event, profile)
		for _, out := range outcomes {
			if out.Status == types.OutcomeFailed {
				log.Error("alert delivery failed permanently",
					"event_id", event.ID, "channel", out.Channel,
					"attempts", out.AttemptCount, "last_error", out.LastError)
			}
		}

		if o.escalations != nil && event.Escalation() && event.ToLevel == types.LevelCritical {
			if err := o.escalations.NotifyEscalation(ctx, event); err != nil {
				log.Warn("escalation notify failed", "event_id", event.ID, "error", err)
			}
		}
	}()
}

func (o *Orchestrator) loadState(ctx context.Context, patientID string) (*types.AlertState, error) {
	state, err := o.patients.GetAlertState(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		s := types.NewAlertState(patientID)
		return &s, nil
	}
	return state, nil
}

// loadProfile falls back to the neutral default profile so a missing or
// unreadable profile degrades scoring instead of halting it.
func (o *Orchestrator) loadProfile(ctx context.Context, patientID string, log types.Logger) *types.PatientProfile {
	profile, err := o.patients.GetProfile(ctx, patientID)
	if err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundPatient {
			log.Warn("profile load failed, using defaults", "error", err)
		}
		return types.DefaultProfile(patientID)
	}
	return profile
}

func (o *Orchestrator) policyFor(ctx context.Context, patientID string, log types.Logger) types.PolicyConfig {
	override, err := o.patients.GetPolicyOverride(ctx, patientID)
	if err != nil {
		log.Warn("policy override load failed, using defaults", "error", err)
		return o.defaultPolicy
	}
	if override == nil {
		return o.defaultPolicy
	}
	return *override
}

func (o *Orchestrator) mergeBaseline(ctx context.Context, baseline *types.PatientBaseline, sample *types.RawSample, log types.Logger) {
	if baseline == nil {
		baseline = &types.PatientBaseline{PatientID: sample.PatientID}
	}
	if !baseline.Merge(sample) {
		return
	}
	if err := o.patients.UpsertBaseline(ctx, baseline); err != nil {
		log.Warn("baseline persist failed", "error", err)
	}
}

// Latest returns the freshest snapshot for a patient, serving from the live
// mirror when possible and falling back to the database. A patient with no
// recorded scores yields a not-found error.
func (o *Orchestrator) Latest(ctx context.Context, patientID string) (*types.StateSnapshot, error) {
	if o.mirror != nil {
		snap, err := o.mirror.Get(ctx, patientID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, livestate.ErrMiss) {
			o.logger.Warn("live state read failed, falling back to database",
				"patient_id", patientID, "error", err)
		}
	}

	score, err := o.scores.LatestScore(ctx, patientID)
	if err != nil {
		return nil, err
	}
	state, err := o.patients.GetAlertState(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		s := types.NewAlertState(patientID)
		state = &s
	}
	return &types.StateSnapshot{Score: *score, State: *state}, nil
}

// Shutdown stops accepting samples, drains the mailboxes, and waits for
// in-flight dispatches, bounded by the context.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		for _, ch := range o.mailboxes {
			close(ch)
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.workers.Wait()
		o.dispatches.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ EventDispatcher = (*dispatch.Dispatcher)(nil)
