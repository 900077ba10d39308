// Package metrics emits pipeline and dispatch telemetry to CloudWatch.
// Emission is fire-and-forget: a metrics failure is logged and never
// propagates into the alerting path.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"breathguard/internal/types"
)

// Metric names.
const (
	metricSampleProcessed = "SampleProcessed"
	metricSampleLatency   = "SampleProcessingLatency"
	metricStaleDrop       = "StaleSampleDropped"
	metricTransition      = "AlertTransition"
	metricDispatch        = "DispatchAttempt"
	metricDispatchLatency = "DispatchLatency"
)

// Dimension names.
const (
	dimLevel   = "Level"
	dimChannel = "Channel"
	dimResult  = "Result"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder publishes telemetry to one CloudWatch namespace. It implements
// both the pipeline and dispatch metrics interfaces.
type Recorder struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewRecorder creates a Recorder for the given namespace.
func NewRecorder(client CloudWatchClient, namespace string, logger types.Logger) *Recorder {
	return &Recorder{client: client, namespace: namespace, logger: logger}
}

func (m *Recorder) put(ctx context.Context, name string, data []cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric", "metric", name, "error", err.Error())
	}
}

// RecordSampleProcessed emits a processed-sample count and latency, tagged
// with the resulting alert level.
func (m *Recorder) RecordSampleProcessed(ctx context.Context, level types.AlertLevel, d time.Duration) {
	levelDim := cwtypes.Dimension{
		Name:  aws.String(dimLevel),
		Value: aws.String(string(level)),
	}
	m.put(ctx, metricSampleProcessed, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricSampleProcessed),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{levelDim},
		},
		{
			MetricName: aws.String(metricSampleLatency),
			Value:      aws.Float64(float64(d.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
	})
}

// RecordStaleDrop counts samples rejected by the ordering guard.
func (m *Recorder) RecordStaleDrop(ctx context.Context) {
	m.put(ctx, metricStaleDrop, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricStaleDrop),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
		},
	})
}

// RecordTransition counts alert level transitions by destination level.
func (m *Recorder) RecordTransition(ctx context.Context, to types.AlertLevel) {
	m.put(ctx, metricTransition, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricTransition),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimLevel), Value: aws.String(string(to))},
			},
		},
	})
}

// RecordDispatch emits a delivery attempt outcome with Channel and Result
// dimensions.
func (m *Recorder) RecordDispatch(ctx context.Context, channel types.ChannelType, result string) {
	m.put(ctx, metricDispatch, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricDispatch),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimChannel), Value: aws.String(string(channel))},
				{Name: aws.String(dimResult), Value: aws.String(result)},
			},
		},
	})
}

// RecordDispatchLatency emits per-channel delivery latency in milliseconds.
func (m *Recorder) RecordDispatchLatency(ctx context.Context, channel types.ChannelType, d time.Duration) {
	m.put(ctx, metricDispatchLatency, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricDispatchLatency),
			Value:      aws.Float64(float64(d.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimChannel), Value: aws.String(string(channel))},
			},
		},
	})
}
