package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/gradsync/pkg/trial"
	"github.com/absmach/gradsync/search"
)

type loggingOracle struct {
	logger *slog.Logger
	oracle search.Oracle
}

func LoggingOracle(logger *slog.Logger, oracle search.Oracle) search.Oracle {
	return &loggingOracle{
		logger: logger,
		oracle: oracle,
	}
}

func (lm *loggingOracle) Ask(ctx context.Context) (p search.Point, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("point", p.String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Ask oracle failed", args...)

			return
		}
		lm.logger.Debug("Ask oracle completed successfully", args...)
	}(time.Now())

	return lm.oracle.Ask(ctx)
}

func (lm *loggingOracle) Tell(ctx context.Context, p search.Point, score float64) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("point", p.String()),
			slog.Float64("score", score),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Tell oracle failed", args...)

			return
		}
		lm.logger.Debug("Tell oracle completed successfully", args...)
	}(time.Now())

	return lm.oracle.Tell(ctx, p, score)
}

type loggingService struct {
	logger *slog.Logger
	svc    search.Service
}

func Logging(logger *slog.Logger, svc search.Service) search.Service {
	return &loggingService{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingService) ListTrials(ctx context.Context, offset, limit uint64) (resp trial.Page, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List trials failed", args...)

			return
		}
		lm.logger.Info("List trials completed successfully", args...)
	}(time.Now())

	return lm.svc.ListTrials(ctx, offset, limit)
}

func (lm *loggingService) GetTrial(ctx context.Context, id string) (resp search.Trial, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("trial",
				slog.String("id", id),
				slog.String("name", resp.Name),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get trial failed", args...)

			return
		}
		lm.logger.Info("Get trial completed successfully", args...)
	}(time.Now())

	return lm.svc.GetTrial(ctx, id)
}

func (lm *loggingService) BestTrial(ctx context.Context) (resp search.Trial, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("trial",
				slog.String("id", resp.ID),
				slog.Float64("metric", resp.Metric),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Best trial failed", args...)

			return
		}
		lm.logger.Info("Best trial completed successfully", args...)
	}(time.Now())

	return lm.svc.BestTrial(ctx)
}
