// Package observability wires OpenTelemetry tracing and metrics for the
// kernel binary.
//
// A Provider exports to an OTLP gRPC collector and installs itself as the
// global otel provider. Kernel components record through Metrics, which reads
// the global meter unless given one, so tests can install an sdk/metric
// manual reader instead.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the kernel's tracer and meter.
const InstrumentationName = "mobius.kernel"

// Config selects the collector. An empty Endpoint disables export.
type Config struct {
	Endpoint       string // host:port
	Version        string
	NodeID         string
	SampleRatio    float64
	ExportInterval time.Duration
	Secure         bool
}

// Provider owns the trace and metric providers of one node.
type Provider struct {
	version string
	tp      *sdktrace.TracerProvider
	mp      *sdkmetric.MeterProvider
}

// New starts exporting to cfg.Endpoint. Without an endpoint it returns a
// provider backed by the global (no-op by default) otel providers.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{version: cfg.Version}
	if cfg.Endpoint == "" {
		return p, nil
	}
	if cfg.SampleRatio <= 0 {
		cfg.SampleRatio = 1
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = 15 * time.Second
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName("mobius-kernel"),
		semconv.ServiceVersion(cfg.Version),
		semconv.ServiceInstanceID(cfg.NodeID),
	)

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if !cfg.Secure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	points, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)

	slog.Default().With("component", "observability").InfoContext(ctx, "exporting telemetry",
		"endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	return p, nil
}

// Shutdown flushes pending spans and points.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		errs = append(errs, p.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns the kernel tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tp == nil {
		return otel.Tracer(InstrumentationName)
	}
	return p.tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(p.version))
}

// Meter returns the kernel meter.
func (p *Provider) Meter() metric.Meter {
	if p.mp == nil {
		return otel.Meter(InstrumentationName)
	}
	return p.mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(p.version))
}
