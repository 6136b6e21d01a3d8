package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "logsentry"
)

// Version is reported as service.version
var Version = "dev"

// Config holds tracing configuration
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector endpoint
	Insecure   bool    `yaml:"insecure,omitempty"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Provider wraps the OpenTelemetry tracer provider
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider installs a global tracer provider exporting over OTLP/gRPC.
// When tracing is disabled the global no-op provider stays in place.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing enabled without an endpoint")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp}, nil
}

// sampler samples everything unless rate is strictly between 0 and 1.
// Spans of sampled parents are always kept.
func sampler(rate float64) sdktrace.Sampler {
	if rate > 0 && rate < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
	return sdktrace.AlwaysSample()
}

// Shutdown flushes pending spans and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the tracer registered on the global provider. Components
// use it so they trace without a Provider being passed around.
func Tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}

// TraceCommit creates a span for an output commit
func TraceCommit(ctx context.Context, outputName, outputType string, records int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "output.commit",
		trace.WithAttributes(
			attribute.String("output.name", outputName),
			attribute.String("output.type", outputType),
			attribute.Int("record.count", records),
		),
	)
}

// TraceCleanup creates a span for a retention pass on one output
func TraceCleanup(ctx context.Context, outputName, source string, days int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "output.cleanup",
		trace.WithAttributes(
			attribute.String("output.name", outputName),
			attribute.String("source", source),
			attribute.Int("retention.days", days),
		),
	)
}

// TraceNotify creates a span for one notification delivery
func TraceNotify(ctx context.Context, notifier, notifierType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "notify.dispatch",
		trace.WithAttributes(
			attribute.String("notifier.name", notifier),
			attribute.String("notifier.type", notifierType),
		),
	)
}

// TraceStateDump creates a span for a checkpoint write
func TraceStateDump(ctx context.Context, files int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "collector.dump_state",
		trace.WithAttributes(attribute.Int("file.count", files)),
	)
}
