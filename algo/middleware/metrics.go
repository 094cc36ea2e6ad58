package middleware

import (
	"context"
	"time"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/weights"
	"github.com/go-kit/kit/metrics"
)

type metricsMiddleware struct {
	algo.Algo
	counter metrics.Counter
	latency metrics.Histogram
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, a algo.Algo) algo.Algo {
	return &metricsMiddleware{
		Algo:    a,
		counter: counter,
		latency: latency,
	}
}

func (mm *metricsMiddleware) ComputeUpdate(ctx context.Context, m model.Model, b data.Batch) (algo.Update, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "compute-update").Add(1)
		mm.latency.With("method", "compute-update").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.Algo.ComputeUpdate(ctx, m, b)
}

func (mm *metricsMiddleware) Aggregate(ctx context.Context, master weights.Weights, updates []algo.Update) (weights.Weights, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "aggregate").Add(1)
		mm.latency.With("method", "aggregate").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.Algo.Aggregate(ctx, master, updates)
}
