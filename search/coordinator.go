// Package search explores hyperparameters by running one trial per block of
// ranks, driven by an oracle on the coordinator rank.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/absmach/gradsync/pkg/trial"
	"github.com/google/uuid"
)

// Message tags on the world communicator.
const (
	TagTrial = iota + 10
	TagResult
)

// Assignment is sent from the coordinator to a block master and broadcast
// inside the block.
type Assignment struct {
	TrialID string        `cbor:"1,keyasint"`
	Name    string        `cbor:"2,keyasint"`
	Params  []trial.Param `cbor:"3,keyasint"`
	Stop    bool          `cbor:"4,keyasint,omitempty"`
}

func (a Assignment) Point() Point { return trial.PointFromParams(a.Params) }

// Result is the outcome of one trial reported by a block master.
type Result struct {
	TrialID string  `cbor:"1,keyasint"`
	Metric  float64 `cbor:"2,keyasint"`
	Error   string  `cbor:"3,keyasint,omitempty"`
}

type Coordinator struct {
	world  comm.Communicator
	blocks []Block
	oracle Oracle
	trials storage.TrialRepository
	logger *slog.Logger
	// prefix names trials <prefix>-<n>.
	prefix string
	// maximize flips scores before they reach the oracle.
	maximize bool
}

func NewCoordinator(world comm.Communicator, blocks []Block, oracle Oracle, trials storage.TrialRepository, prefix string, maximize bool, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		world:    world,
		blocks:   blocks,
		oracle:   oracle,
		trials:   trials,
		logger:   logger,
		prefix:   prefix,
		maximize: maximize,
	}
}

// Run dispatches exactly iterations trials and waits for as many results,
// then tells every block to stop.
func (c *Coordinator) Run(ctx context.Context, iterations int) error {
	if len(c.blocks) == 0 {
		return fmt.Errorf("no blocks to run trials on")
	}
	inflight := make(map[int]Trial, len(c.blocks))
	byMaster := make(map[int]int, len(c.blocks))
	for i, b := range c.blocks {
		byMaster[b.Master] = i
	}

	dispatched, collected := 0, 0
	for collected < iterations {
		for i := range c.blocks {
			if c.blocks[i].Busy || dispatched >= iterations {
				continue
			}
			t, err := c.dispatch(ctx, &c.blocks[i], dispatched)
			if err != nil {
				return err
			}
			inflight[c.blocks[i].Index] = t
			dispatched++
		}

		var res Result
		st, err := c.world.Recv(ctx, comm.AnySource, TagResult, &res)
		if err != nil {
			return fmt.Errorf("failed to receive trial result: %w", err)
		}
		i, ok := byMaster[st.Source]
		if !ok || !c.blocks[i].Busy {
			c.logger.Warn("unexpected result", slog.Int("source", st.Source), slog.String("trial", res.TrialID))

			continue
		}
		b := &c.blocks[i]
		t := inflight[b.Index]
		delete(inflight, b.Index)
		b.Busy = false
		collected++

		if err := c.complete(ctx, t, res); err != nil {
			return err
		}
	}

	for _, b := range c.blocks {
		if err := c.world.Send(ctx, b.Master, TagTrial, Assignment{Stop: true}); err != nil {
			return fmt.Errorf("failed to stop block %d: %w", b.Index, err)
		}
	}

	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, b *Block, n int) (Trial, error) {
	p, err := c.oracle.Ask(ctx)
	if err != nil {
		return Trial{}, fmt.Errorf("oracle failed to propose a point: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Trial{}, err
	}
	now := time.Now().UTC()
	t := Trial{
		ID:        id.String(),
		Name:      fmt.Sprintf("%s-%d", c.prefix, n),
		Params:    p,
		Block:     b.Index,
		Status:    trial.Running,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.trials != nil {
		if err := c.trials.Create(ctx, t); err != nil {
			return Trial{}, fmt.Errorf("failed to store trial: %w", err)
		}
	}
	a := Assignment{TrialID: t.ID, Name: t.Name, Params: p.Params()}
	if err := c.world.Send(ctx, b.Master, TagTrial, a); err != nil {
		return Trial{}, fmt.Errorf("failed to dispatch trial to block %d: %w", b.Index, err)
	}
	b.Busy = true
	c.logger.Info("dispatched trial", slog.String("trial", t.Name), slog.Int("block", b.Index), slog.String("params", p.String()))

	return t, nil
}

func (c *Coordinator) complete(ctx context.Context, t Trial, res Result) error {
	t.UpdatedAt = time.Now().UTC()
	if res.Error != "" {
		t.Status = trial.Failed
		t.Error = res.Error
		c.logger.Warn("trial failed", slog.String("trial", t.Name), slog.Int("block", t.Block), slog.String("error", res.Error))
	} else {
		t.Status = trial.Completed
		t.Metric = res.Metric
		score := res.Metric
		if c.maximize {
			score = -score
		}
		if err := c.oracle.Tell(ctx, t.Params, score); err != nil {
			return fmt.Errorf("oracle rejected result: %w", err)
		}
		c.logger.Info("trial completed", slog.String("trial", t.Name), slog.Int("block", t.Block), slog.Float64("metric", res.Metric))
	}
	if c.trials != nil {
		if err := c.trials.Update(ctx, t); err != nil {
			return fmt.Errorf("failed to update trial: %w", err)
		}
	}

	return nil
}
