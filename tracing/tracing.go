// Package tracing connects query sessions to OpenTelemetry: provider setup,
// the attributes a session span carries, and propagation of a row's session
// span into the messages sinks emit.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporters accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracerName is the instrumentation scope of ksqlq spans.
const TracerName = "github.com/florinutz/ksqlq"

// Session span attributes.
const (
	AttrSource  = attribute.Key("ksqlq.source")
	AttrPush    = attribute.Key("ksqlq.push")
	AttrQueryID = attribute.Key("ksqlq.query_id")
)

// Config selects the span exporter.
type Config struct {
	Exporter string
	// Endpoint overrides OTEL_EXPORTER_OTLP_ENDPOINT. The connection to an
	// explicit endpoint is insecure.
	Endpoint string
	// SampleRatio applies to root spans; 0 samples everything.
	SampleRatio    float64
	ServiceName    string
	ServiceVersion string
}

// Provider is a run's tracer provider.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes buffered spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Setup builds the provider for cfg and installs it, with the W3C trace
// context propagator, as the global default. With no exporter the provider
// is a no-op and nothing global changes.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return &Provider{TracerProvider: noop.NewTracerProvider()}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetTracerProvider(sdk)

	logger.Info("tracing enabled", "exporter", cfg.Exporter, "sample_ratio", ratio)
	return &Provider{TracerProvider: sdk, shutdown: sdk.Shutdown}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout span exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp span exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("unknown span exporter %q (want %s, %s or %s)", cfg.Exporter, ExporterNone, ExporterStdout, ExporterOTLP)
}

func newResource(cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "ksqlq"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	return res, nil
}

// QueryAttributes describes a statement on its session span.
func QueryAttributes(sql, source string, push bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "ksql"),
		attribute.String("db.statement", sql),
		AttrSource.String(source),
		AttrPush.Bool(push),
	}
}

// InjectHTTP writes the trace context of ctx into h.
func InjectHTTP(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// Inject writes sc, the span a row was read under, into carrier so that the
// consumer of a sink message can continue the trace. An invalid span context
// writes nothing.
func Inject(sc trace.SpanContext, carrier propagation.TextMapCarrier) {
	if !sc.IsValid() {
		return
	}
	otel.GetTextMapPropagator().Inject(trace.ContextWithRemoteSpanContext(context.Background(), sc), carrier)
}

// Traceparent renders sc as a W3C traceparent value for logs, or "" when sc
// is invalid. It does not depend on the global propagator.
func Traceparent(sc trace.SpanContext) string {
	if !sc.IsValid() {
		return ""
	}
	c := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(trace.ContextWithRemoteSpanContext(context.Background(), sc), c)
	return c.Get("traceparent")
}
