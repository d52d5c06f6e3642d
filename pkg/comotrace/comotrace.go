// Package comotrace provides OpenTelemetry span helpers for a capture
// tick, an export snapshot pass, and a storage region round trip. In the
// pipeline only Capture's tick opens a span; StartExportSnapshot and
// StartStorageRegion have no callers.
package comotrace

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config selects the exporter backing the tracer provider.
type Config struct {
	Enabled  bool
	Exporter string // "jaeger" | "otlphttp" | "none"
	Endpoint string
}

// Provider owns the process-wide TracerProvider and its one Tracer.
type Provider struct {
	config   Config
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// New builds a Provider. With Enabled false or Exporter "none" the
// tracer is the global otel no-op tracer, so callers can unconditionally
// wrap operations in spans without a nil check.
func New(cfg Config, component string, logger *logrus.Entry) (*Provider, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return &Provider{config: cfg, tracer: otel.Tracer("como/" + component)}, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("comotrace: create exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "como-"+component),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	logger.WithFields(logrus.Fields{"exporter": cfg.Exporter, "endpoint": cfg.Endpoint}).
		Info("tracing initialized")

	return &Provider{config: cfg, provider: tp, tracer: otel.Tracer("como/" + component)}, nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case "otlphttp":
		return otlptrace.New(context.Background(),
			otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint)))
	default:
		return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
	}
}

// Shutdown flushes and stops the tracer provider, a no-op when tracing
// was disabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// StartCaptureTick opens a span around one Capture main-loop tick.
func (p *Provider) StartCaptureTick(ctx context.Context) (context.Context, oteltrace.Span) {
	return p.tracer.Start(ctx, "capture.tick")
}

// StartExportSnapshot opens a span around Export consuming one flow
// table snapshot (§4.6).
func (p *Provider) StartExportSnapshot(ctx context.Context, moduleName string) (context.Context, oteltrace.Span) {
	return p.tracer.Start(ctx, "export.snapshot", oteltrace.WithAttributes(
		attribute.String("como.module", moduleName),
	))
}

// StartStorageRegion opens a span around one Storage REGION round trip
// (§4.7), tagging the stream name so a slow writer is findable by trace.
func (p *Provider) StartStorageRegion(ctx context.Context, stream string, op string) (context.Context, oteltrace.Span) {
	return p.tracer.Start(ctx, "storage."+op, oteltrace.WithAttributes(
		attribute.String("como.stream", stream),
	))
}

// EndWithError finalizes span, recording err if non-nil. Defer this
// right after starting a span that guards a fallible operation.
func EndWithError(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// Since is a small helper for attaching a duration attribute to a span
// already in flight (e.g. time spent inside a single module callback).
func Since(span oteltrace.Span, name string, start time.Time) {
	span.SetAttributes(attribute.Float64(name, time.Since(start).Seconds()))
}
