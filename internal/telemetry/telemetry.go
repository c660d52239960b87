// Package telemetry wires OpenTelemetry tracing and run metrics. When
// disabled every call is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/internal/config"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// Telemetry records per-run and per-verdict metrics.
type Telemetry interface {
	RecordRun(mode string, duration time.Duration, success bool)
	RecordVerdict(testCase types.TestCase, verdict types.Verdict)
	RecordSkip(reason string)
	Close() error
}

type telemetry struct {
	tracerProvider *sdktrace.TracerProvider

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	verdictCounter metric.Int64Counter
	findingCounter metric.Int64Counter
	skipCounter    metric.Int64Counter
}

func New(ctx context.Context, cfg config.TelemetryConfig, version string) (Telemetry, error) {
	if !cfg.Enabled {
		return &noopTelemetry{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t, err := newInstruments(otel.Meter(cfg.ServiceName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	t.tracerProvider = tp
	return t, nil
}

func newInstruments(meter metric.Meter) (*telemetry, error) {
	runCounter, err := meter.Int64Counter("authzfuzz.runs.total",
		metric.WithDescription("Total number of fuzz and check runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram("authzfuzz.run.duration",
		metric.WithDescription("Run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	verdictCounter, err := meter.Int64Counter("authzfuzz.verdicts.total",
		metric.WithDescription("Oracle verdicts by test case and status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	findingCounter, err := meter.Int64Counter("authzfuzz.findings.total",
		metric.WithDescription("Vulnerable verdicts by severity"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	skipCounter, err := meter.Int64Counter("authzfuzz.skipped.total",
		metric.WithDescription("Corpus entries skipped before replay"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		runCounter:     runCounter,
		runDuration:    runDuration,
		verdictCounter: verdictCounter,
		findingCounter: findingCounter,
		skipCounter:    skipCounter,
	}, nil
}

func (t *telemetry) RecordRun(mode string, duration time.Duration, success bool) {
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("run.mode", mode),
		attribute.Bool("run.success", success),
	)

	t.runCounter.Add(ctx, 1, attrs)
	t.runDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetry) RecordVerdict(testCase types.TestCase, verdict types.Verdict) {
	ctx := context.Background()

	t.verdictCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict.test_case", string(testCase)),
		attribute.String("verdict.status", string(verdict.Status)),
	))

	if verdict.Vulnerable() {
		t.findingCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("finding.severity", string(verdict.Severity)),
			attribute.String("finding.type", string(verdict.FindingType)),
		))
	}
}

func (t *telemetry) RecordSkip(reason string) {
	t.skipCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("skip.reason", reason),
	))
}

func (t *telemetry) Close() error {
	if t.tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

func (n *noopTelemetry) RecordRun(mode string, duration time.Duration, success bool)  {}
func (n *noopTelemetry) RecordVerdict(testCase types.TestCase, verdict types.Verdict) {}
func (n *noopTelemetry) RecordSkip(reason string)                                     {}
func (n *noopTelemetry) Close() error                                                 { return nil }
