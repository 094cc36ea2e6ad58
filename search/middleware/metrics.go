package middleware

import (
	"context"
	"time"

	"github.com/absmach/gradsync/pkg/trial"
	"github.com/absmach/gradsync/search"
	"github.com/go-kit/kit/metrics"
)

var _ search.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     search.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc search.Service) search.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) ListTrials(ctx context.Context, offset, limit uint64) (trial.Page, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-trials").Add(1)
		mm.latency.With("method", "list-trials").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListTrials(ctx, offset, limit)
}

func (mm *metricsMiddleware) GetTrial(ctx context.Context, id string) (search.Trial, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-trial").Add(1)
		mm.latency.With("method", "get-trial").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetTrial(ctx, id)
}

func (mm *metricsMiddleware) BestTrial(ctx context.Context) (search.Trial, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "best-trial").Add(1)
		mm.latency.With("method", "best-trial").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.BestTrial(ctx)
}
