// Package telemetry configures the process-wide OpenTelemetry tracer
// provider, exporting spans over OTLP/HTTP to a collector.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// Config holds the telemetry settings.
type Config struct {
	// Enabled turns span export on. When false, Setup is a no-op and the
	// global tracer provider stays the default (spans are never recorded).
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED" envDefault:"false"`

	// Endpoint is the OTLP/HTTP collector endpoint as host:port, e.g.
	// "otel-collector:4318".
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT" envDefault:"otel-collector:4318"`

	// Insecure disables TLS towards the collector.
	Insecure bool `json:"insecure" yaml:"insecure" env:"INSECURE" envDefault:"true"`

	// ServiceName is the service.name resource attribute.
	ServiceName string `json:"service_name" yaml:"service_name" env:"SERVICE_NAME" envDefault:"books-api"`
}

// Setup installs the global tracer provider and W3C trace-context
// propagator. The returned shutdown function flushes pending spans;
// call it during graceful shutdown. When cfg.Enabled is false, the
// returned shutdown is a no-op.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeInternalConfiguration,
			"telemetry: failed to create OTLP exporter")
	}

	// Schemaless avoids a schema URL conflict with the SDK's default
	// resource, whose semconv version moves with the SDK.
	res := resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName))

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}
