// Package algo implements the weight exchange disciplines shared by masters
// and workers: synchronous SGD, asynchronous SGD, EASGD and GEM.
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
	ModeSGD   = "sgd"
	ModeEASGD = "easgd"
	ModeGEM   = "gem"
)

// Algo is implemented only by the variants of this package.
type Algo interface {
	// Mode names the discipline, one of sgd, easgd or gem.
	Mode() string

	// ComputeUpdate runs on a worker for one local batch.
	ComputeUpdate(ctx context.Context, m model.Model, b data.Batch) (Update, error)
	// ApplyMasterWeights folds the weights a master replied with into the
	// worker replica.
	ApplyMasterWeights(m model.Model, received weights.Weights) error
	// ShouldSync reports whether the worker exchanges with its master after
	// its n-th batch.
	ShouldSync(n int) bool

	// Aggregate runs on a master and returns the new central weights.
	Aggregate(ctx context.Context, master weights.Weights, updates []Update) (weights.Weights, error)
	// ReplyWeights picks what a master sends back after an aggregation.
	ReplyWeights(before, after weights.Weights) weights.Weights
	BroadcastPolicy() Policy
	Synchronous() bool
	State() State
	Restore(s State) error

	sealed()
}

// Policy says how often workers synchronize, in batches.
type Policy struct {
	Every int `json:"every"`
}

var EveryRound = Policy{Every: 1}

func EveryN(n int) Policy {
	if n < 1 {
		n = 1
	}

	return Policy{Every: n}
}

func (p Policy) Due(n int) bool {
	return p.Every <= 1 || n%p.Every == 0
}

// State is the serializable master side state of an Algo.
type State struct {
	Mode      string                     `cbor:"1,keyasint" json:"mode"`
	Version   uint64                     `cbor:"2,keyasint" json:"version"`
	Counters  map[string]int64           `cbor:"3,keyasint" json:"counters,omitempty"`
	Buffers   map[string]weights.Weights `cbor:"4,keyasint" json:"buffers,omitempty"`
	Optimizer optimizer.State            `cbor:"5,keyasint" json:"optimizer"`
}

type Config struct {
	Mode         string  `json:"mode"`
	Synchronous  bool    `json:"synchronous"`
	SyncEvery    int     `json:"sync_every"`
	Optimizer    string  `json:"optimizer"`
	LearningRate float64 `json:"learning_rate"`
	// Staleness is "none" or "inverse".
	Staleness       string  `json:"staleness"`
	ElasticForce    float64 `json:"elastic_force"`
	ElasticLR       float64 `json:"elastic_lr"`
	ElasticMomentum float64 `json:"elastic_momentum"`
	WorkerOptimizer string  `json:"worker_optimizer"`
	GEMLR           float64 `json:"gem_lr"`
	GEMMomentum     float64 `json:"gem_momentum"`
	GEMKappa        float64 `json:"gem_kappa"`
}

// New builds the Algo selected by cfg.Mode for a group of groupSize
// processes, master included.
func New(cfg Config, groupSize int) (Algo, error) {
	if groupSize < 2 {
		return nil, fmt.Errorf("%w: a group needs a master and at least one worker, got %d processes", errors.ErrConfiguration, groupSize)
	}
	policy := EveryN(cfg.SyncEvery)

	switch cfg.Mode {
	case "", ModeSGD:
		opt, err := optimizer.New(cfg.Optimizer, optimizer.Params{LearningRate: cfg.LearningRate})
		if err != nil {
			return nil, err
		}
		if cfg.Synchronous {
			return &SyncSGD{opt: opt, policy: policy}, nil
		}
		staleness, err := ParseStaleness(cfg.Staleness)
		if err != nil {
			return nil, err
		}

		return &AsyncSGD{opt: opt, policy: policy, staleness: staleness, stalenessName: cfg.Staleness}, nil
	case ModeEASGD:
		return newEASGD(cfg, groupSize, policy)
	case ModeGEM:
		return newGEM(cfg, policy)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedMode, cfg.Mode)
	}
}

func gradientUpdate(ctx context.Context, m model.Model, b data.Batch) (Update, error) {
	grad, loss, err := m.Gradients(ctx, b)
	if err != nil {
		return Update{}, err
	}

	return Update{Kind: Gradients, Delta: grad, Loss: loss, Batches: 1, Samples: b.Len()}, nil
}

func checkMode(want string, s State) error {
	if s.Mode != want {
		return fmt.Errorf("%w: state of mode %q cannot restore %q", errors.ErrRestore, s.Mode, want)
	}

	return nil
}
