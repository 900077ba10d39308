// Package config defines the global configuration structure for the
// BreathGuard service. Configuration is loaded once at process start and is
// immutable thereafter. It follows 12-Factor principles: values come from the
// OS environment, optionally seeded from a .env file for local development.
//
// Any missing required value or invalid format aborts startup (fail fast).
package config

import (
	"time"

	"breathguard/internal/types"
)

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"breathguard"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Model    ModelConfig
	Policy   PolicyConfig
	Dispatch DispatchConfig
	Pipeline PipelineConfig
	AWS      AWSConfig
	Archive  ArchiveConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL             string        `envconfig:"DATABASE_URL" validate:"required"`
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// RedisConfig holds the live-state mirror connection settings.
type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	TTL      time.Duration `envconfig:"LIVESTATE_TTL" default:"10m"`
}

// MQTTConfig holds the sensing-node ingestion settings.
type MQTTConfig struct {
	Enabled  bool   `envconfig:"MQTT_ENABLED" default:"true"`
	Broker   string `envconfig:"MQTT_BROKER" default:"tcp://localhost:1883"`
	ClientID string `envconfig:"MQTT_CLIENT_ID" default:"breathguard-ingestor"`
	Username string `envconfig:"MQTT_USERNAME"`
	Password string `envconfig:"MQTT_PASSWORD"`
	// Topic pattern with one wildcard level for the patient ID,
	// e.g. breathguard/+/sample.
	SampleTopic string `envconfig:"MQTT_SAMPLE_TOPIC" default:"breathguard/+/sample"`
	QoS         int    `envconfig:"MQTT_QOS" default:"1" validate:"min=0,max=2"`
}

// ModelConfig locates the versioned risk-model artifact.
type ModelConfig struct {
	ArtifactPath string `envconfig:"MODEL_ARTIFACT_PATH" validate:"required"`
}

// PolicyConfig holds the process-wide default alert windows. Per-patient
// overrides stored in the database replace these wholesale.
type PolicyConfig struct {
	WarnThreshold float64 `envconfig:"POLICY_WARN_THRESHOLD" default:"0.5"`
	CritThreshold float64 `envconfig:"POLICY_CRIT_THRESHOLD" default:"0.8"`
	EscalateCount int     `envconfig:"POLICY_ESCALATE_COUNT" default:"3"`
	ClearCount    int     `envconfig:"POLICY_CLEAR_COUNT" default:"3"`
	Hysteresis    float64 `envconfig:"POLICY_HYSTERESIS" default:"0.05"`
}

// Domain converts the env-backed policy defaults to the domain type and
// validates them.
func (c PolicyConfig) Domain() (types.PolicyConfig, error) {
	pc := types.PolicyConfig{
		WarnThreshold: c.WarnThreshold,
		CritThreshold: c.CritThreshold,
		EscalateCount: c.EscalateCount,
		ClearCount:    c.ClearCount,
		Hysteresis:    c.Hysteresis,
	}
	if err := pc.Validate(); err != nil {
		return types.PolicyConfig{}, err
	}
	return pc, nil
}

// DispatchConfig holds alert channel endpoints and retry tuning.
type DispatchConfig struct {
	// BuzzerURL is the sensing node's local actuation endpoint.
	BuzzerURL string `envconfig:"BUZZER_URL" validate:"required,url"`

	// SMS gateway settings. The gateway receives a JSON POST and relays the
	// message; provider specifics stay behind this single endpoint.
	SMSGatewayURL string `envconfig:"SMS_GATEWAY_URL" validate:"required,url"`
	SMSAPIKey     string `envconfig:"SMS_API_KEY"`
	SMSFrom       string `envconfig:"SMS_FROM" default:"BreathGuard"`

	AttemptTimeout time.Duration `envconfig:"DISPATCH_ATTEMPT_TIMEOUT" default:"5s"`
	MaxAttempts    int           `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"3" validate:"min=1"`
	BackoffBase    time.Duration `envconfig:"DISPATCH_BACKOFF_BASE" default:"1s"`
	BackoffMax     time.Duration `envconfig:"DISPATCH_BACKOFF_MAX" default:"30s"`
}

// PipelineConfig tunes the per-patient processing slots.
type PipelineConfig struct {
	// MailboxSize bounds the per-patient queue of samples awaiting
	// serialized processing.
	MailboxSize int `envconfig:"PIPELINE_MAILBOX_SIZE" default:"64" validate:"min=1"`
}

// AWSConfig holds telemetry and optional off-site escalation settings.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"BreathGuard"`
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`

	// EscalationQueueURL, when set, receives a copy of every CRITICAL alert
	// event for off-site escalation workers.
	EscalationQueueURL string `envconfig:"SQS_ESCALATION_QUEUE"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ArchiveConfig tunes the audit-archiver tool.
type ArchiveConfig struct {
	Dir       string        `envconfig:"ARCHIVE_DIR" default:"./archive"`
	Retention time.Duration `envconfig:"ARCHIVE_RETENTION" default:"2160h"` // 90 days
	BatchSize int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"500" validate:"min=1"`
}
