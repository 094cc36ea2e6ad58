package algo

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/absmach/gradsync/pkg/weights"
)

// Message tags on a group communicator.
const (
	TagUpdate = iota + 1
	TagReply
	TagParentUpdate
	TagParentReply
)

type Kind uint8

const (
	Gradients Kind = iota + 1
	Weights
)

func (k Kind) String() string {
	switch k {
	case Gradients:
		return "gradients"
	case Weights:
		return "weights"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Update is what a worker sends to its master.
type Update struct {
	Kind    Kind            `cbor:"1,keyasint"`
	Source  int             `cbor:"2,keyasint"`
	Round   uint64          `cbor:"3,keyasint"`
	Version uint64          `cbor:"4,keyasint"`
	Batches int             `cbor:"5,keyasint"`
	Samples int             `cbor:"6,keyasint"`
	Loss    float64         `cbor:"7,keyasint"`
	Energy  float64         `cbor:"8,keyasint"`
	Delta   weights.Weights `cbor:"9,keyasint"`
	// Done is set by a group master that leaves its coordinator.
	Done bool `cbor:"10,keyasint,omitempty"`
}

// Reply is what a master sends to a worker.
type Reply struct {
	Round   uint64          `cbor:"1,keyasint"`
	Version uint64          `cbor:"2,keyasint"`
	Weights weights.Weights `cbor:"3,keyasint"`
	Stop    bool            `cbor:"4,keyasint,omitempty"`
}

// MeanLoss is the loss averaged over the batches folded into u.
func (u Update) MeanLoss() float64 {
	if u.Batches == 0 {
		return 0
	}

	return u.Loss / float64(u.Batches)
}

// SortBySource orders updates by sender rank so aggregation does not depend
// on arrival order.
func SortBySource(updates []Update) []Update {
	out := slices.Clone(updates)
	slices.SortStableFunc(out, func(a, b Update) int {
		return cmp.Compare(a.Source, b.Source)
	})

	return out
}

// Accumulator folds the per-batch updates of a worker between two syncs.
// Gradients are averaged, weights keep the most recent value.
type Accumulator struct {
	acc Update
	n   int
}

func (a *Accumulator) Add(u Update) error {
	if a.n == 0 {
		a.acc = u
		a.acc.Delta = u.Delta.Clone()
		a.n = 1

		return nil
	}
	if u.Kind != a.acc.Kind {
		return fmt.Errorf("cannot fold %s into %s", u.Kind, a.acc.Kind)
	}
	if u.Kind == Gradients {
		d, err := a.acc.Delta.Add(u.Delta)
		if err != nil {
			return err
		}
		a.acc.Delta = d
		a.acc.Energy += u.Energy
	} else {
		a.acc.Delta = u.Delta.Clone()
		a.acc.Energy = u.Energy
	}
	a.acc.Loss += u.Loss
	a.acc.Batches += u.Batches
	a.acc.Samples += u.Samples
	a.n++

	return nil
}

func (a *Accumulator) Len() int { return a.n }

// Flush returns the folded update and resets the accumulator.
func (a *Accumulator) Flush() Update {
	out := a.acc
	if out.Kind == Gradients && a.n > 1 {
		out.Delta = out.Delta.Scale(1 / float64(a.n))
		out.Energy /= float64(a.n)
	}
	a.acc, a.n = Update{}, 0

	return out
}
