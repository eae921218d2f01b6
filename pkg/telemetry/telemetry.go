package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
)

// scopeName identifies this module as the instrumentation scope on
// every span it creates.
const scopeName = "github.com/rocoloco/Mobius1-sub000"

const serviceName = "mobius"

// Config selects the span exporter. Endpoint names an OTLP gRPC
// collector; empty falls back to the stdout exporter.
type Config struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64 // parent-based head sampling, 0 means 1.0
	Version     string  // stamped on the service resource
}

// Provider owns the tracer provider lifecycle. A disabled Provider
// installs nothing, so spans started through this package stay
// non-recording no-ops.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds the provider and, when enabled, installs it globally
// along with W3C trace-context propagation.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	logger := log.WithComponent("telemetry")
	if !cfg.Enabled {
		logger.Debug().Msg("tracing disabled")
		return &Provider{}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if cfg.Endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, errdefs.NewConfiguration("failed to create trace exporter", err).
			WithHint("check the telemetry endpoint in the controller config")
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Float64("sample_ratio", ratio).
		Msg("tracing enabled")
	return &Provider{tp: tp}, nil
}

// Enabled reports whether a real provider was installed.
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Shutdown flushes pending spans and releases the exporter. A
// disabled provider shuts down as a no-op.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
