// Package observability provides OpenTelemetry integration, in-process
// metrics, and audit logging for the command gateway.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides observability features.
type Telemetry interface {
	// StartSpan starts a trace span; the returned func ends it.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func())

	// RecordCommand counts one dispatched command.
	RecordCommand(ctx context.Context, command, status string)

	// RecordDuration records a command duration in seconds.
	RecordDuration(ctx context.Context, command string, seconds float64)

	// RecordRejection counts one validation rejection.
	RecordRejection(ctx context.Context, phase string)

	// AddActive adjusts the in-flight command gauge.
	AddActive(ctx context.Context, delta int64)
}

// SpanOption configures span creation.
type SpanOption func(*spanConfig)

type spanConfig struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// WithAttribute adds an attribute to the span.
func WithAttribute(key string, value interface{}) SpanOption {
	return func(c *spanConfig) {
		switch v := value.(type) {
		case string:
			c.attributes = append(c.attributes, attribute.String(key, v))
		case int:
			c.attributes = append(c.attributes, attribute.Int(key, v))
		case int64:
			c.attributes = append(c.attributes, attribute.Int64(key, v))
		case float64:
			c.attributes = append(c.attributes, attribute.Float64(key, v))
		case bool:
			c.attributes = append(c.attributes, attribute.Bool(key, v))
		}
	}
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// TelemetryConfig configures telemetry.
type TelemetryConfig struct {
	// ServiceName is the service name for tracing.
	ServiceName string

	// ServiceVersion is the service version.
	ServiceVersion string

	// Environment is the deployment environment.
	Environment string

	// EnableTracing enables distributed tracing.
	EnableTracing bool

	// EnableMetrics enables metrics collection.
	EnableMetrics bool

	// MetricsPrefix is the prefix for all metrics.
	MetricsPrefix string
}

// DefaultTelemetryConfig returns default configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		ServiceName:    "cadgate",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		EnableTracing:  true,
		EnableMetrics:  true,
		MetricsPrefix:  "cadgate_",
	}
}

type telemetry struct {
	config TelemetryConfig
	tracer trace.Tracer
	meter  metric.Meter

	commandCounter   metric.Int64Counter
	commandDuration  metric.Float64Histogram
	activeCommands   metric.Int64UpDownCounter
	rejectionCounter metric.Int64Counter
}

// NewTelemetry creates a telemetry instance backed by the global OTel
// providers.
func NewTelemetry(config TelemetryConfig) (Telemetry, error) {
	t := &telemetry{
		config: config,
		tracer: otel.Tracer(config.ServiceName),
		meter:  otel.Meter(config.ServiceName),
	}

	var err error

	t.commandCounter, err = t.meter.Int64Counter(
		config.MetricsPrefix+"commands_total",
		metric.WithDescription("Total number of dispatched commands"),
	)
	if err != nil {
		return nil, err
	}

	t.commandDuration, err = t.meter.Float64Histogram(
		config.MetricsPrefix+"command_duration_seconds",
		metric.WithDescription("Duration of command handling"),
	)
	if err != nil {
		return nil, err
	}

	t.activeCommands, err = t.meter.Int64UpDownCounter(
		config.MetricsPrefix+"active_commands",
		metric.WithDescription("Number of commands currently in flight"),
	)
	if err != nil {
		return nil, err
	}

	t.rejectionCounter, err = t.meter.Int64Counter(
		config.MetricsPrefix+"validation_rejections_total",
		metric.WithDescription("Total number of validation rejections"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// StartSpan implements Telemetry.StartSpan.
func (t *telemetry) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func()) {
	if !t.config.EnableTracing {
		return ctx, func() {}
	}

	cfg := &spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(cfg.attributes...),
		trace.WithSpanKind(cfg.kind),
	)
	return ctx, func() { span.End() }
}

// RecordCommand implements Telemetry.RecordCommand.
func (t *telemetry) RecordCommand(ctx context.Context, command, status string) {
	if !t.config.EnableMetrics {
		return
	}
	t.commandCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	))
}

// RecordDuration implements Telemetry.RecordDuration.
func (t *telemetry) RecordDuration(ctx context.Context, command string, seconds float64) {
	if !t.config.EnableMetrics {
		return
	}
	t.commandDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("command", command),
	))
}

// RecordRejection implements Telemetry.RecordRejection.
func (t *telemetry) RecordRejection(ctx context.Context, phase string) {
	if !t.config.EnableMetrics {
		return
	}
	t.rejectionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
	))
}

// AddActive implements Telemetry.AddActive.
func (t *telemetry) AddActive(ctx context.Context, delta int64) {
	if !t.config.EnableMetrics {
		return
	}
	t.activeCommands.Add(ctx, delta)
}

// NoopTelemetry returns a no-op telemetry implementation.
func NoopTelemetry() Telemetry {
	return &noopTelemetry{}
}

type noopTelemetry struct{}

func (t *noopTelemetry) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func()) {
	return ctx, func() {}
}

func (t *noopTelemetry) RecordCommand(ctx context.Context, command, status string)       {}
func (t *noopTelemetry) RecordDuration(ctx context.Context, command string, sec float64) {}
func (t *noopTelemetry) RecordRejection(ctx context.Context, phase string)               {}
func (t *noopTelemetry) AddActive(ctx context.Context, delta int64)                      {}
