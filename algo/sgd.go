package algo

import (
	"context"
	"fmt"

	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/optimizer"
	"github.com/absmach/gradsync/pkg/weights"
)

const (
	StalenessNone    = "none"
	StalenessInverse = "inverse"
)

// StalenessPolicy scales a gradient computed s versions behind the master.
type StalenessPolicy func(s uint64) float64

func ParseStaleness(name string) (StalenessPolicy, error) {
	switch name {
	case "", StalenessNone:
		return func(uint64) float64 { return 1 }, nil
	case StalenessInverse:
		return func(s uint64) float64 { return 1 / (1 + float64(s)) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown staleness policy %q", errors.ErrConfiguration, name)
	}
}

// SyncSGD averages the gradients of every reporting worker and applies one
// optimizer step per round. Workers wait for the new weights before their
// next batch.
type SyncSGD struct {
	opt     optimizer.Optimizer
	policy  Policy
	version uint64
	rounds  int64
}

func (a *SyncSGD) sealed() {}

func (a *SyncSGD) Mode() string { return ModeSGD }

func (a *SyncSGD) ComputeUpdate(ctx context.Context, m model.Model, b data.Batch) (Update, error) {
	return gradientUpdate(ctx, m, b)
}

func (a *SyncSGD) ApplyMasterWeights(m model.Model, received weights.Weights) error {
	return m.SetWeights(received)
}

func (a *SyncSGD) ShouldSync(n int) bool { return a.policy.Due(n) }

func (a *SyncSGD) Aggregate(_ context.Context, master weights.Weights, updates []Update) (weights.Weights, error) {
	if len(updates) == 0 {
		return master, nil
	}
	sorted := SortBySource(updates)
	grads := make([]weights.Weights, len(sorted))
	for i, u := range sorted {
		grads[i] = u.Delta
	}
	mean, err := weights.Mean(grads)
	if err != nil {
		return nil, err
	}
	out, err := a.opt.Step(master, mean)
	if err != nil {
		return nil, err
	}
	a.version++
	a.rounds++

	return out, nil
}

func (a *SyncSGD) ReplyWeights(_, after weights.Weights) weights.Weights { return after }

func (a *SyncSGD) BroadcastPolicy() Policy { return a.policy }

func (a *SyncSGD) Synchronous() bool { return true }

func (a *SyncSGD) State() State {
	return State{
		Mode:      ModeSGD,
		Version:   a.version,
		Counters:  map[string]int64{"rounds": a.rounds, "synchronous": 1},
		Optimizer: a.opt.State(),
	}
}

func (a *SyncSGD) Restore(s State) error {
	if err := checkMode(ModeSGD, s); err != nil {
		return err
	}
	if err := a.opt.Restore(s.Optimizer); err != nil {
		return err
	}
	a.version = s.Version
	a.rounds = s.Counters["rounds"]

	return nil
}

// AsyncSGD applies each gradient as it arrives, scaled by how many versions
// the master moved since the worker fetched its weights.
type AsyncSGD struct {
	opt           optimizer.Optimizer
	policy        Policy
	staleness     StalenessPolicy
	stalenessName string
	version       uint64
	applied       int64
}

func (a *AsyncSGD) sealed() {}

func (a *AsyncSGD) Mode() string { return ModeSGD }

func (a *AsyncSGD) ComputeUpdate(ctx context.Context, m model.Model, b data.Batch) (Update, error) {
	return gradientUpdate(ctx, m, b)
}

func (a *AsyncSGD) ApplyMasterWeights(m model.Model, received weights.Weights) error {
	return m.SetWeights(received)
}

func (a *AsyncSGD) ShouldSync(n int) bool { return a.policy.Due(n) }

func (a *AsyncSGD) Aggregate(_ context.Context, master weights.Weights, updates []Update) (weights.Weights, error) {
	w := master
	for _, u := range SortBySource(updates) {
		var s uint64
		if a.version > u.Version {
			s = a.version - u.Version
		}
		next, err := a.opt.Step(w, u.Delta.Scale(a.staleness(s)))
		if err != nil {
			return nil, err
		}
		w = next
		a.version++
		a.applied++
	}

	return w, nil
}

func (a *AsyncSGD) ReplyWeights(_, after weights.Weights) weights.Weights { return after }

func (a *AsyncSGD) BroadcastPolicy() Policy { return a.policy }

func (a *AsyncSGD) Synchronous() bool { return false }

func (a *AsyncSGD) State() State {
	return State{
		Mode:      ModeSGD,
		Version:   a.version,
		Counters:  map[string]int64{"applied": a.applied},
		Optimizer: a.opt.State(),
	}
}

func (a *AsyncSGD) Restore(s State) error {
	if err := checkMode(ModeSGD, s); err != nil {
		return err
	}
	if err := a.opt.Restore(s.Optimizer); err != nil {
		return err
	}
	a.version = s.Version
	a.applied = s.Counters["applied"]

	return nil
}
