// Package optimizer implements the update rules a master applies to its
// central weights.
package optimizer

import (
	"fmt"
	"math"

	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/weights"
)

const (
	SGD      = "sgd"
	Momentum = "momentum"
	Adam     = "adam"
)

// State is the serializable part of an optimizer.
type State struct {
	Name  string                     `cbor:"1,keyasint" json:"name"`
	Steps int64                      `cbor:"2,keyasint" json:"steps"`
	Slots map[string]weights.Weights `cbor:"3,keyasint" json:"slots,omitempty"`
}

type Optimizer interface {
	Name() string
	// Step returns w moved along -grad. Neither argument is modified.
	Step(w, grad weights.Weights) (weights.Weights, error)
	State() State
	Restore(s State) error
}

// Params carries the optional knobs of each rule. Zero values pick defaults.
type Params struct {
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
	Beta1        float64 `json:"beta_1"`
	Beta2        float64 `json:"beta_2"`
	Epsilon      float64 `json:"epsilon"`
}

func New(name string, p Params) (Optimizer, error) {
	if p.LearningRate <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %g", errors.ErrConfiguration, p.LearningRate)
	}
	switch name {
	case "", SGD:
		return &sgd{lr: p.LearningRate}, nil
	case Momentum:
		mu := p.Momentum
		if mu == 0 {
			mu = 0.9
		}

		return &momentum{lr: p.LearningRate, mu: mu}, nil
	case Adam:
		a := &adam{lr: p.LearningRate, b1: p.Beta1, b2: p.Beta2, eps: p.Epsilon}
		if a.b1 == 0 {
			a.b1 = 0.9
		}
		if a.b2 == 0 {
			a.b2 = 0.999
		}
		if a.eps == 0 {
			a.eps = 1e-7
		}

		return a, nil
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", errors.ErrConfiguration, name)
	}
}

type sgd struct {
	lr    float64
	steps int64
}

func (o *sgd) Name() string { return SGD }

func (o *sgd) Step(w, grad weights.Weights) (weights.Weights, error) {
	out, err := w.AddScaled(-o.lr, grad)
	if err != nil {
		return nil, err
	}
	o.steps++

	return out, nil
}

func (o *sgd) State() State { return State{Name: SGD, Steps: o.steps} }

func (o *sgd) Restore(s State) error {
	if err := checkName(SGD, s); err != nil {
		return err
	}
	o.steps = s.Steps

	return nil
}

type momentum struct {
	lr, mu   float64
	steps    int64
	velocity weights.Weights
}

func (o *momentum) Name() string { return Momentum }

func (o *momentum) Step(w, grad weights.Weights) (weights.Weights, error) {
	if o.velocity == nil {
		o.velocity = w.Zeros()
	}
	// v = mu*v - lr*g; w = w + v
	v, err := o.velocity.Scale(o.mu).AddScaled(-o.lr, grad)
	if err != nil {
		return nil, err
	}
	out, err := w.Add(v)
	if err != nil {
		return nil, err
	}
	o.velocity = v
	o.steps++

	return out, nil
}

func (o *momentum) State() State {
	s := State{Name: Momentum, Steps: o.steps}
	if o.velocity != nil {
		s.Slots = map[string]weights.Weights{"velocity": o.velocity.Clone()}
	}

	return s
}

func (o *momentum) Restore(s State) error {
	if err := checkName(Momentum, s); err != nil {
		return err
	}
	o.steps = s.Steps
	o.velocity = s.Slots["velocity"].Clone()

	return nil
}

type adam struct {
	lr, b1, b2, eps float64
	steps           int64
	m, v            weights.Weights
}

func (o *adam) Name() string { return Adam }

func (o *adam) Step(w, grad weights.Weights) (weights.Weights, error) {
	if err := w.Compatible(grad); err != nil {
		return nil, err
	}
	if o.m == nil {
		o.m, o.v = w.Zeros(), w.Zeros()
	}
	o.steps++
	c1 := 1 - math.Pow(o.b1, float64(o.steps))
	c2 := 1 - math.Pow(o.b2, float64(o.steps))

	m, v := o.m.Clone(), o.v.Clone()
	out := w.Clone()
	for t := range out {
		for i, g := range grad[t].Data {
			m[t].Data[i] = o.b1*m[t].Data[i] + (1-o.b1)*g
			v[t].Data[i] = o.b2*v[t].Data[i] + (1-o.b2)*g*g
			out[t].Data[i] -= o.lr * (m[t].Data[i] / c1) / (math.Sqrt(v[t].Data[i]/c2) + o.eps)
		}
	}
	o.m, o.v = m, v

	return out, nil
}

func (o *adam) State() State {
	s := State{Name: Adam, Steps: o.steps}
	if o.m != nil {
		s.Slots = map[string]weights.Weights{"m": o.m.Clone(), "v": o.v.Clone()}
	}

	return s
}

func (o *adam) Restore(s State) error {
	if err := checkName(Adam, s); err != nil {
		return err
	}
	o.steps = s.Steps
	o.m = s.Slots["m"].Clone()
	o.v = s.Slots["v"].Clone()

	return nil
}

func checkName(want string, s State) error {
	if s.Name != want {
		return fmt.Errorf("%w: optimizer state for %q cannot restore %q", errors.ErrRestore, s.Name, want)
	}

	return nil
}
