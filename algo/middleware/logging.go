package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/weights"
)

type loggingMiddleware struct {
	algo.Algo
	logger  *slog.Logger
	verbose bool
}

// Logging logs every aggregation. With verbose set it also logs every local
// update computed by a worker.
func Logging(logger *slog.Logger, verbose bool, a algo.Algo) algo.Algo {
	return &loggingMiddleware{
		Algo:    a,
		logger:  logger,
		verbose: verbose,
	}
}

func (lm *loggingMiddleware) ComputeUpdate(ctx context.Context, m model.Model, b data.Batch) (u algo.Update, err error) {
	defer func(begin time.Time) {
		if err == nil && !lm.verbose {
			return
		}
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("batch",
				slog.Int("size", b.Len()),
				slog.Float64("loss", u.Loss),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Compute update failed", args...)

			return
		}
		lm.logger.Debug("Compute update completed successfully", args...)
	}(time.Now())

	return lm.Algo.ComputeUpdate(ctx, m, b)
}

func (lm *loggingMiddleware) Aggregate(ctx context.Context, master weights.Weights, updates []algo.Update) (w weights.Weights, err error) {
	defer func(begin time.Time) {
		sources := make([]int, len(updates))
		for i, u := range updates {
			sources[i] = u.Source
		}
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("aggregate",
				slog.String("mode", lm.Mode()),
				slog.Any("sources", sources),
				slog.Uint64("version", lm.State().Version),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Aggregate failed", args...)

			return
		}
		lm.logger.Debug("Aggregate completed successfully", args...)
	}(time.Now())

	return lm.Algo.Aggregate(ctx, master, updates)
}

func (lm *loggingMiddleware) Restore(s algo.State) (err error) {
	defer func() {
		args := []any{
			slog.Group("state",
				slog.String("mode", s.Mode),
				slog.Uint64("version", s.Version),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Restore algo state failed", args...)

			return
		}
		lm.logger.Info("Restore algo state completed successfully", args...)
	}()

	return lm.Algo.Restore(s)
}
