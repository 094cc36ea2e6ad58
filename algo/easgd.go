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

// EASGD couples each worker to a center variable held by the master. Workers
// train locally and exchange weights every sync interval; both sides move
// toward each other by alpha = elastic_force/(P-1).
type EASGD struct {
	alpha   float64
	local   optimizer.Optimizer
	policy  Policy
	version uint64
	syncs   int64
}

func newEASGD(cfg Config, groupSize int, policy Policy) (*EASGD, error) {
	if cfg.ElasticForce <= 0 || cfg.ElasticForce > 1 {
		return nil, fmt.Errorf("%w: elastic force must be in (0, 1], got %g", errors.ErrConfiguration, cfg.ElasticForce)
	}
	name := cfg.WorkerOptimizer
	if name == "" {
		name = optimizer.Momentum
	}
	local, err := optimizer.New(name, optimizer.Params{LearningRate: cfg.ElasticLR, Momentum: cfg.ElasticMomentum})
	if err != nil {
		return nil, err
	}

	return &EASGD{
		alpha:  cfg.ElasticForce / float64(groupSize-1),
		local:  local,
		policy: policy,
	}, nil
}

func (a *EASGD) sealed() {}

func (a *EASGD) Mode() string { return ModeEASGD }

// Alpha is the per-worker elastic coefficient.
func (a *EASGD) Alpha() float64 { return a.alpha }

func (a *EASGD) ComputeUpdate(ctx context.Context, m model.Model, b data.Batch) (Update, error) {
	grad, loss, err := m.Gradients(ctx, b)
	if err != nil {
		return Update{}, err
	}
	w, err := a.local.Step(m.Weights(), grad)
	if err != nil {
		return Update{}, err
	}
	if err := m.SetWeights(w); err != nil {
		return Update{}, err
	}

	return Update{Kind: Weights, Delta: w, Loss: loss, Batches: 1, Samples: b.Len()}, nil
}

func (a *EASGD) ApplyMasterWeights(m model.Model, center weights.Weights) error {
	w := m.Weights()
	diff, err := w.Sub(center)
	if err != nil {
		return err
	}
	next, err := w.AddScaled(-a.alpha, diff)
	if err != nil {
		return err
	}

	return m.SetWeights(next)
}

func (a *EASGD) ShouldSync(n int) bool { return a.policy.Due(n) }

// Aggregate moves the center by the sum of alpha*(w_i - center), every
// difference taken against the same center.
func (a *EASGD) Aggregate(_ context.Context, center weights.Weights, updates []Update) (weights.Weights, error) {
	if len(updates) == 0 {
		return center, nil
	}
	diffs := make([]weights.Weights, 0, len(updates))
	for _, u := range SortBySource(updates) {
		d, err := u.Delta.Sub(center)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, d)
	}
	sum, err := weights.Sum(diffs)
	if err != nil {
		return nil, err
	}
	out, err := center.AddScaled(a.alpha, sum)
	if err != nil {
		return nil, err
	}
	a.version++
	a.syncs += int64(len(updates))

	return out, nil
}

// ReplyWeights returns the center the worker's difference was measured
// against.
func (a *EASGD) ReplyWeights(before, _ weights.Weights) weights.Weights { return before }

func (a *EASGD) BroadcastPolicy() Policy { return a.policy }

func (a *EASGD) Synchronous() bool { return false }

func (a *EASGD) State() State {
	return State{
		Mode:      ModeEASGD,
		Version:   a.version,
		Counters:  map[string]int64{"syncs": a.syncs},
		Optimizer: a.local.State(),
	}
}

func (a *EASGD) Restore(s State) error {
	if err := checkMode(ModeEASGD, s); err != nil {
		return err
	}
	if err := a.local.Restore(s.Optimizer); err != nil {
		return err
	}
	a.version = s.Version
	a.syncs = s.Counters["syncs"]

	return nil
}
