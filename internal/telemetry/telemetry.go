// Package telemetry wires OpenTelemetry metrics for the gateway.
//
// Metrics are off by default. The exporter is chosen by configuration:
//
//	none    no-op meter provider (default)
//	stdout  periodic JSON dump to stdout
//	otlp    OTLP/HTTP; endpoint and headers come from the standard
//	        OTEL_EXPORTER_OTLP_* environment variables
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const scopeName = "automation-gateway"

type Options struct {
	Exporter    string
	Interval    time.Duration
	ServiceName string
	Version     string
	// Reader replaces the exporter-backed reader; tests pass a ManualReader.
	Reader sdkmetric.Reader
}

// Metrics holds the gateway's instruments.
type Metrics struct {
	shutdown func(context.Context) error

	requests metric.Int64Counter
	duration metric.Float64Histogram
	commands metric.Int64Counter
	timeouts metric.Int64Counter
}

func Init(ctx context.Context, opts Options) (*Metrics, error) {
	var provider metric.MeterProvider
	shutdown := func(context.Context) error { return nil }

	reader := opts.Reader
	if reader == nil && opts.Exporter != "" && opts.Exporter != "none" {
		exp, err := buildExporter(ctx, opts.Exporter)
		if err != nil {
			return nil, err
		}
		interval := opts.Interval
		if interval <= 0 {
			interval = time.Minute
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))
	}
	if reader == nil {
		provider = metricnoop.NewMeterProvider()
	} else {
		name := opts.ServiceName
		if name == "" {
			name = "gatewayd"
		}
		res := resource.NewSchemaless(
			attribute.String("service.name", name),
			attribute.String("service.version", opts.Version),
		)
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
		provider = mp
		shutdown = mp.Shutdown
	}

	m, err := newMetrics(provider.Meter(scopeName))
	if err != nil {
		return nil, err
	}
	m.shutdown = shutdown
	return m, nil
}

func buildExporter(ctx context.Context, name string) (sdkmetric.Exporter, error) {
	switch name {
	case "stdout":
		return stdoutmetric.New()
	case "otlp":
		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", name)
	}
}

func newMetrics(m metric.Meter) (*Metrics, error) {
	requests, err := m.Int64Counter("gateway.http.requests",
		metric.WithDescription("HTTP requests served, by route and status"))
	if err != nil {
		return nil, err
	}
	duration, err := m.Float64Histogram("gateway.http.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	commands, err := m.Int64Counter("gateway.bash.commands",
		metric.WithDescription("Shell commands executed, by outcome"))
	if err != nil {
		return nil, err
	}
	timeouts, err := m.Int64Counter("gateway.bash.timeouts",
		metric.WithDescription("Shell commands that hit the command timeout"))
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, duration: duration, commands: commands, timeouts: timeouts}, nil
}

// Noop returns Metrics that record nothing.
func Noop() *Metrics {
	m, _ := newMetrics(metricnoop.NewMeterProvider().Meter(scopeName))
	m.shutdown = func(context.Context) error { return nil }
	return m
}

func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.String("http.status_code", strconv.Itoa(status)),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(attribute.String("http.route", route)))
}

// RecordCommand counts one shell command by outcome: ok, error or timeout.
func (m *Metrics) RecordCommand(ctx context.Context, outcome string) {
	m.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "timeout" {
		m.timeouts.Add(ctx, 1)
	}
}

// Shutdown flushes pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.shutdown(ctx)
}
