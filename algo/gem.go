package algo

import (
	"context"
	"fmt"
	"math"

	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/weights"
)

const (
	gemEpsilon  = 1e-8
	gemMaxScale = 5.0

	bufMomentum = "momentum"
	bufStale    = "stale"
)

// GEM amplifies each gradient element by how far the center still has to
// travel to match the expected momentum, measured against the center seen at
// the previous aggregation.
type GEM struct {
	lr, mu, kappa float64
	policy        Policy
	synchronous   bool
	version       uint64
	momentum      weights.Weights
	stale         weights.Weights
	energy        float64
}

func newGEM(cfg Config, policy Policy) (*GEM, error) {
	if cfg.GEMLR <= 0 {
		return nil, fmt.Errorf("%w: gem learning rate must be positive, got %g", errors.ErrConfiguration, cfg.GEMLR)
	}
	if cfg.GEMMomentum < 0 || cfg.GEMMomentum >= 1 {
		return nil, fmt.Errorf("%w: gem momentum must be in [0, 1), got %g", errors.ErrConfiguration, cfg.GEMMomentum)
	}
	kappa := cfg.GEMKappa
	if kappa == 0 {
		kappa = 2
	}

	return &GEM{lr: cfg.GEMLR, mu: cfg.GEMMomentum, kappa: kappa, policy: policy, synchronous: cfg.Synchronous}, nil
}

func (a *GEM) sealed() {}

func (a *GEM) Mode() string { return ModeGEM }

func (a *GEM) ComputeUpdate(ctx context.Context, m model.Model, b data.Batch) (Update, error) {
	u, err := gradientUpdate(ctx, m, b)
	if err != nil {
		return Update{}, err
	}
	u.Energy = 0.5 * u.Delta.SquaredNorm()

	return u, nil
}

func (a *GEM) ApplyMasterWeights(m model.Model, received weights.Weights) error {
	return m.SetWeights(received)
}

func (a *GEM) ShouldSync(n int) bool { return a.policy.Due(n) }

func (a *GEM) Aggregate(_ context.Context, w weights.Weights, updates []Update) (weights.Weights, error) {
	if len(updates) == 0 {
		return w, nil
	}
	sorted := SortBySource(updates)
	grads := make([]weights.Weights, len(sorted))
	energy := 0.0
	for i, u := range sorted {
		grads[i] = u.Delta
		energy += u.Energy
	}
	g, err := weights.Mean(grads)
	if err != nil {
		return nil, err
	}
	if a.momentum == nil {
		a.momentum = w.Zeros()
	}
	if a.stale == nil {
		a.stale = w.Clone()
	}
	if err := w.Compatible(a.momentum); err != nil {
		return nil, err
	}
	if err := w.Compatible(a.stale); err != nil {
		return nil, err
	}

	p := a.momentum.Clone()
	out := w.Clone()
	for t := range out {
		for i, gi := range g[t].Data {
			step := a.lr * gi
			p[t].Data[i] = a.mu*p[t].Data[i] - step
			dc := w[t].Data[i] - a.stale[t].Data[i]
			pi := (a.kappa*math.Abs(p[t].Data[i]) - math.Abs(dc)) / (math.Abs(step) + gemEpsilon)
			pi = math.Min(math.Max(pi, 0), gemMaxScale)
			out[t].Data[i] -= pi * step
		}
	}
	a.momentum = p
	a.stale = w.Clone()
	a.energy = energy / float64(len(sorted))
	a.version++

	return out, nil
}

func (a *GEM) ReplyWeights(_, after weights.Weights) weights.Weights { return after }

func (a *GEM) BroadcastPolicy() Policy { return a.policy }

func (a *GEM) Synchronous() bool { return a.synchronous }

// Energy is the mean worker energy of the last aggregation.
func (a *GEM) Energy() float64 { return a.energy }

func (a *GEM) State() State {
	s := State{Mode: ModeGEM, Version: a.version, Buffers: map[string]weights.Weights{}}
	if a.momentum != nil {
		s.Buffers[bufMomentum] = a.momentum.Clone()
	}
	if a.stale != nil {
		s.Buffers[bufStale] = a.stale.Clone()
	}

	return s
}

func (a *GEM) Restore(s State) error {
	if err := checkMode(ModeGEM, s); err != nil {
		return err
	}
	a.version = s.Version
	a.momentum = s.Buffers[bufMomentum].Clone()
	a.stale = s.Buffers[bufStale].Clone()

	return nil
}
