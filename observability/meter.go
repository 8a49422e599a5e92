package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/YallaPapi/i2v-sub001/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g. "localhost:4318").
	Endpoint string
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// The returned provider should be shut down on application exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the engine's metric instruments.
type Metrics struct {
	stepTotal    metric.Int64Counter
	stepDuration metric.Float64Histogram
	stepInFlight metric.Int64UpDownCounter
	retryTotal   metric.Int64Counter
	costCents    metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	stepTotal, err := meter.Int64Counter("step.total",
		metric.WithDescription("Steps finished, by type, model and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating step.total counter: %w", err)
	}

	stepDuration, err := meter.Float64Histogram("step.duration",
		metric.WithDescription("Step execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating step.duration histogram: %w", err)
	}

	stepInFlight, err := meter.Int64UpDownCounter("step.in_flight",
		metric.WithDescription("Steps currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating step.in_flight gauge: %w", err)
	}

	retryTotal, err := meter.Int64Counter("step.retry.total",
		metric.WithDescription("Step retries, by failure kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating step.retry.total counter: %w", err)
	}

	costCents, err := meter.Int64Counter("cost.cents",
		metric.WithDescription("Actual cost accumulated by completed steps, in cents"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cost.cents counter: %w", err)
	}

	return &Metrics{
		stepTotal:    stepTotal,
		stepDuration: stepDuration,
		stepInFlight: stepInFlight,
		retryTotal:   retryTotal,
		costCents:    costCents,
	}, nil
}

// RecordStepStart increments the in-flight step count.
func (m *Metrics) RecordStepStart(ctx context.Context) {
	m.stepInFlight.Add(ctx, 1)
}

// RecordStepEnd decrements in-flight steps and records the finished step.
func (m *Metrics) RecordStepEnd(ctx context.Context, stepType, model, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("step_type", stepType),
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.stepInFlight.Add(ctx, -1)
	m.stepTotal.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("step_type", stepType),
		attribute.String("model", model),
	))
}

// RecordRetry records a scheduled retry by failure kind.
func (m *Metrics) RecordRetry(ctx context.Context, kind string) {
	m.retryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCost accumulates actual cost for a completed step.
func (m *Metrics) RecordCost(ctx context.Context, model string, cents int64) {
	m.costCents.Add(ctx, cents, metric.WithAttributes(attribute.String("model", model)))
}
