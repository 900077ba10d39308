package ingest

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"breathguard/internal/config"
	"breathguard/internal/types"
)

// SampleSink receives decoded samples. Implemented by the pipeline
// orchestrator.
type SampleSink interface {
	Submit(ctx context.Context, sample *types.RawSample) error
}

// MQTTConsumer subscribes to the sensing-node sample topic and feeds decoded
// samples into the pipeline. Each node publishes to its own topic level, e.g.
// breathguard/p-001/sample.
type MQTTConsumer struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	sink   SampleSink
	clock  types.Clock
	logger types.Logger
}

// NewMQTTConsumer builds a consumer with its own broker connection. Connect
// is deferred to Start.
func NewMQTTConsumer(cfg config.MQTTConfig, sink SampleSink, clock types.Clock, logger types.Logger) *MQTTConsumer {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	return &MQTTConsumer{
		cfg:    cfg,
		client: mqtt.NewClient(opts),
		sink:   sink,
		clock:  clock,
		logger: logger,
	}
}

// Start connects, subscribes, and blocks until the context is cancelled.
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}

	token := c.client.Subscribe(c.cfg.SampleTopic, byte(c.cfg.QoS), func(_ mqtt.Client, msg mqtt.Message) {
		c.handleMessage(ctx, msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", c.cfg.SampleTopic, token.Error())
	}

	c.logger.Info("mqtt consumer started",
		"broker", c.cfg.Broker, "topic", c.cfg.SampleTopic)

	<-ctx.Done()
	return nil
}

// Stop unsubscribes and disconnects.
func (c *MQTTConsumer) Stop() {
	if token := c.client.Unsubscribe(c.cfg.SampleTopic); token.Wait() && token.Error() != nil {
		c.logger.Error("mqtt unsubscribe failed", "error", token.Error())
	}
	c.client.Disconnect(250)
	c.logger.Info("mqtt consumer stopped")
}

func (c *MQTTConsumer) handleMessage(ctx context.Context, topic string, payload []byte) {
	patientID, err := PatientIDFromTopic(topic)
	if err != nil {
		c.logger.Warn("dropping sample on unrecognized topic",
			"topic", topic, "error", err)
		return
	}

	sample, err := DecodeSample(payload, patientID, c.clock)
	if err != nil {
		// A malformed payload is the node's bug, not ours. Drop it and
		// keep the subscription alive.
		c.logger.Warn("dropping malformed sample",
			"patient_id", patientID, "topic", topic, "error", err)
		return
	}

	if err := c.sink.Submit(ctx, sample); err != nil {
		c.logger.Error("failed to submit sample",
			"patient_id", patientID, "error", err)
	}
}

// PatientIDFromTopic extracts the patient ID level from a sample topic of the
// form breathguard/<patientID>/sample.
func PatientIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("topic %q does not match <prefix>/<patient>/<channel>", topic)
	}
	return parts[1], nil
}
