package middleware

import (
	"context"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/weights"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracing struct {
	algo.Algo
	tracer trace.Tracer
}

func Tracing(tracer trace.Tracer, a algo.Algo) algo.Algo {
	return &tracing{a, tracer}
}

func (tm *tracing) ComputeUpdate(ctx context.Context, m model.Model, b data.Batch) (algo.Update, error) {
	ctx, span := tm.tracer.Start(ctx, "compute-update", trace.WithAttributes(
		attribute.String("mode", tm.Mode()),
		attribute.Int("batch_size", b.Len()),
	))
	defer span.End()

	return tm.Algo.ComputeUpdate(ctx, m, b)
}

func (tm *tracing) Aggregate(ctx context.Context, master weights.Weights, updates []algo.Update) (weights.Weights, error) {
	ctx, span := tm.tracer.Start(ctx, "aggregate", trace.WithAttributes(
		attribute.String("mode", tm.Mode()),
		attribute.Int("updates", len(updates)),
		attribute.Int("parameters", master.Size()),
	))
	defer span.End()

	w, err := tm.Algo.Aggregate(ctx, master, updates)
	if err != nil {
		span.RecordError(err)
	}

	return w, err
}
