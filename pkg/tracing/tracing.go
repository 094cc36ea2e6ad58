// Package tracing sets up the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"errors"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var errNoURL = errors.New("URL is empty")

// NewProvider exports spans over OTLP/HTTP to endpoint, sampling the given
// fraction of root traces.
func NewProvider(ctx context.Context, svcName string, endpoint url.URL, instanceID string, fraction float64) (*tracesdk.TracerProvider, error) {
	if endpoint == (url.URL{}) {
		return nil, errNoURL
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint.Host),
		otlptracehttp.WithURLPath(endpoint.Path),
	}
	if endpoint.Scheme != "https" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", svcName),
		attribute.String("host.id", instanceID),
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(fraction))),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(resource.NewSchemaless(attrs...)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// Setup returns a tracer for svcName and a shutdown function. Without an
// endpoint the tracer is a no-op.
func Setup(ctx context.Context, svcName string, endpoint url.URL, instanceID string, fraction float64) (trace.Tracer, func(context.Context) error, error) {
	if endpoint == (url.URL{}) {
		return noop.NewTracerProvider().Tracer(svcName), func(context.Context) error { return nil }, nil
	}
	tp, err := NewProvider(ctx, svcName, endpoint, instanceID, fraction)
	if err != nil {
		return nil, nil, err
	}

	return tp.Tracer(svcName), tp.Shutdown, nil
}
