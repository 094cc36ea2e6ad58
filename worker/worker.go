// Package worker runs a model replica that trains on its data shard and
// synchronizes with the group master.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/data"
)

const masterRank = 0

// Stats counts what a worker did before it was told to stop.
type Stats struct {
	Batches int
	Syncs   int
	// Loss is the sum of the per-batch training losses.
	Loss float64
}

type Worker struct {
	group   comm.Communicator
	algo    algo.Algo
	model   model.Model
	source  data.Source
	logger  *slog.Logger
	verbose bool
}

func New(group comm.Communicator, a algo.Algo, m model.Model, source data.Source, logger *slog.Logger, verbose bool) *Worker {
	return &Worker{
		group:   group,
		algo:    a,
		model:   m,
		source:  source,
		logger:  logger,
		verbose: verbose,
	}
}

func (w *Worker) Model() model.Model { return w.model }

// Run trains until the master replies with a stop. The data source is
// rewound every time it is exhausted.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	var r algo.Reply
	if _, err := w.group.Recv(ctx, masterRank, algo.TagReply, &r); err != nil {
		return stats, fmt.Errorf("failed to receive initial weights: %w", err)
	}
	if r.Stop {
		return stats, nil
	}
	if err := w.model.SetWeights(r.Weights); err != nil {
		return stats, err
	}
	if w.source.Len() == 0 {
		return stats, data.ErrEmptySource
	}

	var acc algo.Accumulator
	n := 0
	for {
		b, err := w.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			w.source.Reset()

			continue
		}
		if err != nil {
			return stats, err
		}

		u, err := w.algo.ComputeUpdate(ctx, w.model, b)
		if err != nil {
			return stats, fmt.Errorf("failed to compute update: %w", err)
		}
		if err := acc.Add(u); err != nil {
			return stats, err
		}
		n++
		stats.Batches++
		stats.Loss += u.Loss
		if w.verbose {
			w.logger.Debug("batch done", slog.Int("batch", n), slog.Float64("loss", u.Loss))
		}
		if !w.algo.ShouldSync(n) {
			continue
		}

		up := acc.Flush()
		up.Round = r.Round
		up.Version = r.Version
		if err := w.group.Send(ctx, masterRank, algo.TagUpdate, up); err != nil {
			return stats, fmt.Errorf("failed to send update: %w", err)
		}
		r = algo.Reply{}
		if _, err := w.group.Recv(ctx, masterRank, algo.TagReply, &r); err != nil {
			return stats, fmt.Errorf("failed to receive weights: %w", err)
		}
		if r.Stop {
			return stats, nil
		}
		if err := w.algo.ApplyMasterWeights(w.model, r.Weights); err != nil {
			return stats, err
		}
		stats.Syncs++
	}
}
