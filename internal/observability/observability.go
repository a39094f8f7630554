// Package observability provides OpenTelemetry trace export for the client.
//
// Export goes to a local OTLP/HTTP collector endpoint (an agent on
// localhost:4318 in the usual deployment), which buffers and forwards spans;
// the client never talks to a tracing backend directly and never needs a
// tracing credential. When no endpoint is configured, Setup is a no-op and
// every tracer obtained through otel.Tracer stays a no-op as well.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/koopa0/agentstream/internal/log"
)

// Setup configures the global tracer provider to export spans to the given
// OTLP/HTTP endpoint (host:port, no scheme). It returns a shutdown function
// that flushes pending spans; callers must invoke it on close.
//
// An empty endpoint disables tracing and returns a no-op shutdown.
func Setup(ctx context.Context, serviceName, endpoint string, logger log.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		// The endpoint is a local agent; TLS terminates there.
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("trace export enabled", "endpoint", endpoint, "service", serviceName)
	return provider.Shutdown, nil
}
