package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"breathguard/internal/types"
)

// registeredChannel pairs a channel with its retry policy.
type registeredChannel struct {
	ch     Channel
	policy RetryPolicy
}

// Dispatcher routes alert events to their applicable channels and runs the
// per-channel retry loop. Channels execute in parallel and fully isolated:
// a buzzer failure never prevents an SMS attempt and vice versa.
type Dispatcher struct {
	channels       map[types.ChannelType]registeredChannel
	outcomes       *OutcomeManager
	attemptTimeout time.Duration
	metrics        Metrics
	logger         types.Logger
	clock          types.Clock
	sleepFn        func(time.Duration)
}

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSleepFunc overrides the sleep function used between retries.
// Intended for testing to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) DispatcherOption {
	return func(d *Dispatcher) { d.sleepFn = fn }
}

// WithClock overrides the clock. Intended for testing.
func WithClock(c types.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMetrics attaches a telemetry recorder.
func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a Dispatcher. Channels are attached with Register.
func NewDispatcher(outcomes *OutcomeManager, attemptTimeout time.Duration, logger types.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels:       make(map[types.ChannelType]registeredChannel),
		outcomes:       outcomes,
		attemptTimeout: attemptTimeout,
		metrics:        NopMetrics{},
		logger:         logger,
		clock:          types.RealClock{},
		sleepFn:        time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register attaches a channel with its retry policy.
func (d *Dispatcher) Register(ch Channel, policy RetryPolicy) {
	d.channels[ch.Type()] = registeredChannel{ch: ch, policy: policy}
}

// channelsFor applies the routing rules:
//   - BUZZER on every transition (alarm on escalation, stand-down tone on
//     de-escalation).
//   - SMS only on entry to CRITICAL. Because transitions are single-step,
//     every entry to CRITICAL (first or re-entry after de-escalation) is a
//     WARNING->CRITICAL transition, so this rule suppresses SMS storms from
//     repeated high scores without missing a re-entry.
func channelsFor(event *types.AlertEvent) []types.ChannelType {
	routed := []types.ChannelType{types.ChannelBuzzer}
	if event.Escalation() && event.ToLevel == types.LevelCritical {
		routed = append(routed, types.ChannelSMS)
	}
	return routed
}

// Dispatch executes all applicable channel deliveries for an alert event and
// returns one outcome per routed channel. It blocks until every channel has
// reached a terminal outcome; callers run it as background work so retry
// backoff never stalls sample ingestion.
func (d *Dispatcher) Dispatch(ctx context.Context, event *types.AlertEvent, profile *types.PatientProfile) []types.DispatchOutcome {
	payload := Payload{
		Event:  *event,
		Action: ActionAlarm,
	}
	if !event.Escalation() {
		payload.Action = ActionStandDown
	}
	if profile != nil {
		payload.PatientName = profile.Name
		payload.Phone = profile.AlertPhone
	}

	routed := channelsFor(event)
	results := make([]types.DispatchOutcome, len(routed))

	g, gctx := errgroup.WithContext(ctx)
	for i, chType := range routed {
		i, chType := i, chType
		g.Go(func() error {
			results[i] = d.deliver(gctx, chType, payload)
			// Failures are isolated per channel; never propagate.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// deliver runs the retry loop for one channel until success, exhaustion, or
// a permanent error.
func (d *Dispatcher) deliver(ctx context.Context, chType types.ChannelType, payload Payload) types.DispatchOutcome {
	eventID := payload.Event.ID
	log := d.logger.With("event_id", eventID, "channel", string(chType))

	rc, ok := d.channels[chType]
	if !ok {
		log.Error("no channel registered for dispatch")
		return types.DispatchOutcome{
			ID:        OutcomeID(eventID, chType),
			EventID:   eventID,
			Channel:   chType,
			Status:    types.OutcomeFailed,
			LastError: string(types.ErrCodeDispatchUnknownChannel),
		}
	}

	out, created, err := d.outcomes.EnsureOutcome(ctx, eventID, chType)
	if err != nil {
		log.Error("failed to ensure dispatch outcome", "error", err.Error())
		return types.DispatchOutcome{
			ID:        OutcomeID(eventID, chType),
			EventID:   eventID,
			Channel:   chType,
			Status:    types.OutcomeFailed,
			LastError: err.Error(),
		}
	}

	// Replay safety: a terminal outcome means this event+channel was already
	// resolved (e.g. crash-recovery replay). No physical action is taken.
	if !created && out.Status.Terminal() {
		log.Info("dispatch replay suppressed", "status", string(out.Status))
		d.metrics.RecordDispatch(ctx, chType, "skipped")
		return *out
	}

	for attempt := out.AttemptCount + 1; ; attempt++ {
		if err := d.outcomes.RecordAttempt(ctx, out.ID); err != nil {
			log.Warn("failed to record dispatch attempt", "error", err.Error())
		}
		out.AttemptCount = attempt

		start := d.clock.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		res, sendErr := rc.ch.Send(attemptCtx, payload)
		cancel()
		d.metrics.RecordDispatchLatency(ctx, chType, d.clock.Now().Sub(start))

		if sendErr == nil {
			now := d.clock.Now()
			if err := d.outcomes.MarkSuccess(ctx, out.ID, res.ProviderMessageID); err != nil {
				log.Warn("failed to persist dispatch success", "error", err.Error())
			}
			out.Status = types.OutcomeSucceeded
			out.LastError = ""
			out.DeliveredAt = &now
			d.metrics.RecordDispatch(ctx, chType, "success")
			return *out
		}

		out.LastError = sendErr.Error()

		if attempt < rc.policy.MaxAttempts && rc.ch.ShouldRetry(sendErr) {
			if err := d.outcomes.MarkRetrying(ctx, out.ID, sendErr.Error()); err != nil {
				log.Warn("failed to persist retry state", "error", err.Error())
			}
			d.sleepFn(CalculateNextRetry(rc.policy, attempt-1))
			continue
		}

		// Exhausted or permanent: freeze the outcome and surface it.
		if err := d.outcomes.MarkFailed(ctx, out.ID, sendErr.Error()); err != nil {
			log.Warn("failed to persist dispatch failure", "error", err.Error())
		}
		out.Status = types.OutcomeFailed
		d.metrics.RecordDispatch(ctx, chType, "failed")
		return *out
	}
}
