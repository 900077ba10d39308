// Package queue provides the SQS-based escalation publisher that forwards
// critical alert events to off-site escalation workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"breathguard/internal/config"
	"breathguard/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EscalationMessage is the wire payload placed on the escalation queue.
// Downstream workers (care-team paging, clinical dashboards) consume it
// independently of the local buzzer/SMS channels.
type EscalationMessage struct {
	TraceID string            `json:"trace_id"`
	SentAt  time.Time         `json:"sent_at"`
	Event   *types.AlertEvent `json:"event"`
}

// EscalationPublisher serializes critical alert events and sends them to the
// configured SQS escalation queue. Publication is advisory: the local
// buzzer/SMS channels have already fired by the time this runs, so a queue
// failure degrades off-site escalation without affecting patient-side alerts.
type EscalationPublisher struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   types.Logger
}

// NewEscalationPublisher creates a publisher targeting the escalation queue
// from the AWS configuration.
func NewEscalationPublisher(client SQSSender, awsCfg config.AWSConfig, clock types.Clock, logger types.Logger) *EscalationPublisher {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &EscalationPublisher{
		client:   client,
		queueURL: awsCfg.EscalationQueueURL,
		clock:    clock,
		logger:   logger,
	}
}

// NotifyEscalation enqueues the alert event for off-site escalation workers.
// Each message carries a fresh trace ID so downstream consumers can correlate
// their own logs back to the originating transition.
func (p *EscalationPublisher) NotifyEscalation(ctx context.Context, event *types.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("queue: nil alert event")
	}

	msg := EscalationMessage{
		TraceID: uuid.NewString(),
		SentAt:  p.clock.Now().UTC(),
		Event:   event,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal escalation message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"patient_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.PatientID),
			},
			"to_level": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.ToLevel)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send escalation message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("escalation message sent",
		"queue_url", p.queueURL,
		"trace_id", msg.TraceID,
		"event_id", event.ID,
		"patient_id", event.PatientID,
		"to_level", string(event.ToLevel),
	)

	return nil
}
