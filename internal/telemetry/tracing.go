package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds an SDK tracer provider tagged with the
// service name and installs it as the global provider. Production
// deployments attach a real exporter (OTLP) via WithSpanProcessor;
// this core ships only the provider wiring, matching the rest of the
// ambient stack's "bring your own exporter" posture.
func NewTracerProvider(serviceName string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the named tracer from the global provider, for
// components that want to start their own spans (match settlement,
// shadow validation) without importing the SDK directly.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
