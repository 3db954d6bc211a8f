package tracing

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	tcr "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultSamplingRatio = 0.1

type Config struct {
	ServiceName string
	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint      string
	SamplingRatio float64
}

var (
	mu sync.Mutex
	tp *trace.TracerProvider
)

// Init installs a batching OTLP tracer provider as the global provider.
// Calling it again after a successful Init is a no-op.
func Init(ctx context.Context, config Config) error {
	mu.Lock()
	defer mu.Unlock()
	if tp != nil {
		log.Warn().Msg("Tracing already initialized!")
		return nil
	}
	if config.ServiceName == "" {
		return errors.New("tracing: service name is required")
	}
	if config.Endpoint == "" {
		return errors.New("tracing: collector endpoint is required")
	}
	samplingRatio := config.SamplingRatio
	if samplingRatio <= 0 {
		samplingRatio = defaultSamplingRatio
	}

	exporter, err := otlptrace.New(ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(config.Endpoint),
		),
	)
	if err != nil {
		return err
	}
	resources, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", config.ServiceName),
			attribute.String("telemetry.sdk.language", "go"),
		),
	)
	if err != nil {
		return err
	}

	tp = trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(samplingRatio))),
		trace.WithBatcher(exporter),
		trace.WithResource(resources),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	log.Info().
		Str("collectorURL", config.Endpoint).
		Str("serviceName", config.ServiceName).
		Float64("samplingRatio", samplingRatio).
		Msg("Tracer initialized!")
	return nil
}

// GetTracer returns a tracer from the installed provider, or a noop tracer
// before Init.
func GetTracer(name string) tcr.Tracer {
	mu.Lock()
	defer mu.Unlock()
	if tp == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return tp.Tracer(name)
}

func ShutdownTracer(ctx context.Context) {
	mu.Lock()
	defer mu.Unlock()
	if tp == nil {
		return
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Tracer shutdown failed")
	}
	tp = nil
	log.Info().Msg("Tracer shutdown complete!!!")
}
