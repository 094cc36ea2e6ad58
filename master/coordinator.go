package master

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/weights"
)

// Coordinator averages the weights of several group masters once per epoch.
// It is rank 0 of a communicator holding itself and the masters.
type Coordinator struct {
	parent comm.Communicator
	logger *slog.Logger
}

// Summary is what a coordinator learned by the time every master left.
type Summary struct {
	Rounds  int
	Weights weights.Weights
	// Metrics maps the world rank of each master to the best metric it
	// reported when leaving.
	Metrics map[int]float64
	// Loss is the mean training loss masters reported in the last round.
	Loss float64
	// Losses holds Loss for every round.
	Losses []float64
}

func NewCoordinator(parent comm.Communicator, logger *slog.Logger) *Coordinator {
	return &Coordinator{parent: parent, logger: logger}
}

// Run serves masters until all of them left. A Done update carries the
// master's best validation metric in its Loss field.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{Metrics: make(map[int]float64)}
	active := make(map[int]bool, c.parent.Size()-1)
	for r := 1; r < c.parent.Size(); r++ {
		active[r] = true
	}

	for len(active) > 0 {
		pending := make(map[int]bool, len(active))
		for r := range active {
			pending[r] = true
		}
		var updates []algo.Update
		for len(pending) > 0 {
			var u algo.Update
			st, err := c.parent.Recv(ctx, comm.AnySource, algo.TagParentUpdate, &u)
			if err != nil {
				return sum, fmt.Errorf("failed to receive from masters: %w", err)
			}
			u.Source = st.Source
			if !pending[u.Source] {
				continue
			}
			delete(pending, u.Source)
			if u.Done {
				delete(active, u.Source)
				sum.Metrics[c.parent.WorldRank(u.Source)] = u.Loss
				sum.Weights = u.Delta
				c.logger.Info("master left", slog.Int("master", c.parent.WorldRank(u.Source)), slog.Float64("metric", u.Loss))

				continue
			}
			updates = append(updates, u)
		}
		if len(updates) == 0 {
			continue
		}

		sorted := algo.SortBySource(updates)
		ws := make([]weights.Weights, len(sorted))
		loss := 0.0
		for i, u := range sorted {
			ws[i] = u.Delta
			loss += u.MeanLoss()
		}
		mean, err := weights.Mean(ws)
		if err != nil {
			return sum, err
		}
		sum.Rounds++
		sum.Weights = mean
		sum.Loss = loss / float64(len(sorted))
		sum.Losses = append(sum.Losses, sum.Loss)
		r := algo.Reply{Round: uint64(sum.Rounds), Weights: mean}
		for _, u := range sorted {
			if err := c.parent.Send(ctx, u.Source, algo.TagParentReply, r); err != nil {
				return sum, err
			}
		}
		c.logger.Debug("averaged group weights", slog.Int("round", sum.Rounds), slog.Int("masters", len(sorted)))
	}

	return sum, nil
}
