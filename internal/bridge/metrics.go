package bridge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/flowd/internal/bridge"

// Metrics holds bridge-level metrics.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	connects    metric.Int64Counter
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
	active      metric.Int64UpDownCounter
}

// NewMetrics creates a Metrics instance on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.connects, err = m.meter.Int64Counter(
		"flowd.bridge.connects_total",
		metric.WithDescription("Total number of tool server connections established"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		m.logger.Warn("failed to create connects counter", zap.Error(err))
	}

	m.invocations, err = m.meter.Int64Counter(
		"flowd.bridge.tool.invocations_total",
		metric.WithDescription("Total number of tool proxy invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"flowd.bridge.tool.duration_seconds",
		metric.WithDescription("Duration of tool proxy invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"flowd.bridge.tool.errors_total",
		metric.WithDescription("Total number of failed tool proxy invocations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.active, err = m.meter.Int64UpDownCounter(
		"flowd.bridge.tool.active_invocations",
		metric.WithDescription("Number of tool proxy invocations in flight"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active counter", zap.Error(err))
	}
}

// RecordConnect counts an established connection and its tool count.
func (m *Metrics) RecordConnect(ctx context.Context, serverID string, tools int) {
	if m.connects == nil {
		return
	}
	m.connects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.Int("tools", tools),
	))
}

// InvocationStarted marks an invocation in flight.
func (m *Metrics) InvocationStarted(ctx context.Context) {
	if m.active != nil {
		m.active.Add(ctx, 1)
	}
}

// InvocationFinished records the outcome of one invocation.
func (m *Metrics) InvocationFinished(ctx context.Context, tool string, d time.Duration, failed bool) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.active != nil {
		m.active.Add(ctx, -1)
	}
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if failed && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
