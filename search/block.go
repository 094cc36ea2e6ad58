package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/gradsync/pkg/comm"
)

// Runner evaluates an assignment on one rank of a block. The value returned
// on block rank 0 is the trial's metric.
type Runner func(ctx context.Context, a Assignment) (float64, error)

// RunBlock serves trials on every rank of a block until the coordinator
// sends a stop. Block rank 0 receives each assignment from the coordinator
// and broadcasts it; every rank runs it.
func RunBlock(ctx context.Context, world, block comm.Communicator, coordinator int, run Runner, logger *slog.Logger) error {
	for {
		var a Assignment
		if block.Rank() == 0 {
			if _, err := world.Recv(ctx, coordinator, TagTrial, &a); err != nil {
				return fmt.Errorf("failed to receive trial: %w", err)
			}
		}
		if err := comm.Bcast(ctx, block, 0, &a); err != nil {
			return fmt.Errorf("failed to share trial: %w", err)
		}
		if a.Stop {
			return nil
		}

		metric, err := run(ctx, a)
		if err != nil {
			logger.Warn("trial failed on rank", slog.String("trial", a.Name), slog.Int("block_rank", block.Rank()), slog.Any("error", err))
		}
		if block.Rank() != 0 {
			continue
		}
		res := Result{TrialID: a.TrialID, Metric: metric}
		if err != nil {
			res.Error = err.Error()
		}
		if err := world.Send(ctx, coordinator, TagResult, res); err != nil {
			return fmt.Errorf("failed to report trial %s: %w", a.Name, err)
		}
	}
}
