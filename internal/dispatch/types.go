// Package dispatch executes alert actions on physical and notification
// channels with per-channel retry, exponential backoff, circuit breaking,
// and failure isolation. One channel's failure never blocks another, and
// re-dispatching an already-delivered event performs no physical action.
package dispatch

import (
	"context"
	"time"

	"breathguard/internal/types"
)

// Action is what a channel should physically do for an alert event.
type Action string

const (
	// ActionAlarm signals an escalation (audible alarm, SMS text).
	ActionAlarm Action = "alarm"

	// ActionStandDown signals a de-escalation. Only the buzzer receives
	// stand-down dispatches (silence); SMS never does, to reduce alarm
	// fatigue.
	ActionStandDown Action = "stand_down"
)

// Payload carries everything a channel needs to act on an alert event.
// Content formatting is a thin channel concern; only the success/failure/
// timeout signal matters to the dispatcher.
type Payload struct {
	Event       types.AlertEvent
	Action      Action
	PatientName string
	Phone       string
}

// SendResult reports a successful channel transmission.
type SendResult struct {
	// ProviderMessageID is the upstream identifier when the provider
	// returns one (SMS gateways do; the buzzer does not).
	ProviderMessageID string
}

// Channel is a single dispatch target. Implementations must be safe for
// concurrent use; the dispatcher fans out across channels in parallel.
type Channel interface {
	// Type returns the channel identifier.
	Type() types.ChannelType

	// Send executes one transmission attempt. The context carries the
	// per-attempt timeout; exceeding it counts as a failed attempt.
	Send(ctx context.Context, p Payload) (*SendResult, error)

	// ShouldRetry inspects an error to determine whether it is transient.
	ShouldRetry(err error) bool
}

// RetryPolicy defines the exponential backoff parameters for dispatch
// retries on one channel.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Standard retry policies per channel. The buzzer is on the local network
// and recovers fast; the SMS gateway is a remote API that benefits from
// longer spacing.
var (
	BuzzerRetryPolicy = RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
	SMSRetryPolicy = RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 5.0,
	}
)

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = policy.MaxDelay
	}

	return d
}

// Metrics abstracts dispatch telemetry. A no-op implementation is used when
// metrics are disabled.
type Metrics interface {
	RecordDispatch(ctx context.Context, channel types.ChannelType, result string)
	RecordDispatchLatency(ctx context.Context, channel types.ChannelType, d time.Duration)
}

// NopMetrics discards all dispatch telemetry.
type NopMetrics struct{}

func (NopMetrics) RecordDispatch(context.Context, types.ChannelType, string)               {}
func (NopMetrics) RecordDispatchLatency(context.Context, types.ChannelType, time.Duration) {}
