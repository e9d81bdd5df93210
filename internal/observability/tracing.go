// Package observability wires OpenTelemetry tracing into Genkit.
//
// Genkit owns its own TracerProvider, so rather than installing a global
// provider we register an OTLP span processor on Genkit's provider. Every
// model call, tool invocation, and retrieval search Genkit traces then flows
// to the configured collector.
//
// The exporter speaks OTLP over HTTP, which any collector accepts: an
// OpenTelemetry Collector, Jaeger, or a vendor agent listening on the
// standard port. Service identity is passed through the OTEL_* environment
// variables because Genkit builds its resource before we get a chance to
// configure it.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultEndpoint is the standard OTLP HTTP listen address.
const DefaultEndpoint = "localhost:4318"

// Config for the trace exporter.
type Config struct {
	// Endpoint is the OTLP HTTP collector address (default: localhost:4318)
	Endpoint string
	// ServiceName identifies this process in the trace backend
	ServiceName string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
}

// Setup registers an OTLP exporter with Genkit's TracerProvider and returns
// a shutdown function that flushes pending spans.
//
// A collector that is down is not an error: the exporter buffers and drops,
// and the assistant keeps working. Only exporter construction failures are
// surfaced, and even those degrade to a no-op shutdown.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
