package search

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/absmach/gradsync/pkg/trial"
)

type (
	Trial = trial.Trial
	Point = trial.Point
)

// Oracle proposes points and learns from their scores. Scores are
// minimized.
type Oracle interface {
	Ask(ctx context.Context) (Point, error)
	Tell(ctx context.Context, p Point, score float64) error
}

// Observation is a point with its score.
type Observation struct {
	Point Point   `json:"point"`
	Score float64 `json:"score"`
}

// RandomOracle samples the space independently for every Ask.
type RandomOracle struct {
	space Space

	mu           sync.Mutex
	src          rand.Source
	observations []Observation
	best         int
}

var _ Oracle = (*RandomOracle)(nil)

func NewRandomOracle(space Space, seed uint64) (*RandomOracle, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}

	return &RandomOracle{space: space, src: rand.NewPCG(seed, seed^0xda3e39cb94b95bdb), best: -1}, nil
}

func (o *RandomOracle) Ask(ctx context.Context) (Point, error) {
	if err := ctx.Err(); err != nil {
		return Point{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.space.sample(o.src), nil
}

func (o *RandomOracle) Tell(ctx context.Context, p Point, score float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.observations = append(o.observations, Observation{Point: p, Score: score})
	if o.best < 0 || score < o.observations[o.best].Score {
		o.best = len(o.observations) - 1
	}

	return nil
}

// Best returns the lowest scored observation.
func (o *RandomOracle) Best() (Observation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.best < 0 {
		return Observation{}, false
	}

	return o.observations[o.best], true
}

func (o *RandomOracle) Observations() []Observation {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Observation, len(o.observations))
	copy(out, o.observations)

	return out
}
