// Package weights holds the flat tensor representation that model replicas
// exchange. Every operation returns a new value; inputs are never mutated.
package weights

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

var ErrShapeMismatch = errors.New("weights shape mismatch")

// Tensor is a named, row-major block of parameters.
type Tensor struct {
	Name  string    `cbor:"1,keyasint" json:"name"`
	Shape []int     `cbor:"2,keyasint" json:"shape"`
	Data  []float64 `cbor:"3,keyasint" json:"data"`
}

// Weights is an ordered list of tensors. Two Weights values are compatible
// when they hold the same tensor names in the same order with equal lengths.
type Weights []Tensor

func NewTensor(name string, shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return Tensor{Name: name, Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Name:  t.Name,
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

func (w Weights) Clone() Weights {
	if w == nil {
		return nil
	}
	out := make(Weights, len(w))
	for i, t := range w {
		out[i] = t.Clone()
	}

	return out
}

// Zeros returns a zero-valued copy with the layout of w.
func (w Weights) Zeros() Weights {
	out := make(Weights, len(w))
	for i, t := range w {
		out[i] = Tensor{Name: t.Name, Shape: append([]int(nil), t.Shape...), Data: make([]float64, len(t.Data))}
	}

	return out
}

// Size is the total number of parameters.
func (w Weights) Size() int {
	n := 0
	for _, t := range w {
		n += len(t.Data)
	}

	return n
}

func (w Weights) Compatible(o Weights) error {
	if len(w) != len(o) {
		return fmt.Errorf("%w: %d tensors vs %d", ErrShapeMismatch, len(w), len(o))
	}
	for i := range w {
		if w[i].Name != o[i].Name || len(w[i].Data) != len(o[i].Data) {
			return fmt.Errorf("%w: tensor %d (%s/%d vs %s/%d)", ErrShapeMismatch, i, w[i].Name, len(w[i].Data), o[i].Name, len(o[i].Data))
		}
	}

	return nil
}

// Add returns w + o.
func (w Weights) Add(o Weights) (Weights, error) {
	return w.AddScaled(1, o)
}

// Sub returns w - o.
func (w Weights) Sub(o Weights) (Weights, error) {
	if err := w.Compatible(o); err != nil {
		return nil, err
	}
	out := w.Zeros()
	for i := range w {
		floats.SubTo(out[i].Data, w[i].Data, o[i].Data)
	}

	return out, nil
}

// AddScaled returns w + alpha*o.
func (w Weights) AddScaled(alpha float64, o Weights) (Weights, error) {
	if err := w.Compatible(o); err != nil {
		return nil, err
	}
	out := w.Clone()
	for i := range out {
		if alpha == 1 {
			floats.Add(out[i].Data, o[i].Data)

			continue
		}
		floats.AddScaled(out[i].Data, alpha, o[i].Data)
	}

	return out, nil
}

// Scale returns c*w.
func (w Weights) Scale(c float64) Weights {
	out := w.Clone()
	for i := range out {
		floats.Scale(c, out[i].Data)
	}

	return out
}

// Map returns a copy where every element is replaced by fn(tensor, index, value).
func (w Weights) Map(fn func(t, i int, v float64) float64) Weights {
	out := w.Clone()
	for t := range out {
		for i, v := range out[t].Data {
			out[t].Data[i] = fn(t, i, v)
		}
	}

	return out
}

// SquaredNorm is the sum of squares of every parameter.
func (w Weights) SquaredNorm() float64 {
	s := 0.0
	for _, t := range w {
		s += floats.Dot(t.Data, t.Data)
	}

	return s
}

// Equal reports bit-for-bit equality of layout and values.
func (w Weights) Equal(o Weights) bool {
	if w.Compatible(o) != nil {
		return false
	}
	for i := range w {
		if !floats.Equal(w[i].Data, o[i].Data) {
			return false
		}
	}

	return true
}

// Sum adds ws in the order given. The caller owns the ordering, which makes
// the float result reproducible.
func Sum(ws []Weights) (Weights, error) {
	if len(ws) == 0 {
		return nil, errors.New("no weights to sum")
	}
	out := ws[0].Zeros()
	for _, w := range ws {
		if err := out.Compatible(w); err != nil {
			return nil, err
		}
		for i := range out {
			floats.Add(out[i].Data, w[i].Data)
		}
	}

	return out, nil
}

// Mean is Sum(ws) scaled by 1/len(ws).
func Mean(ws []Weights) (Weights, error) {
	s, err := Sum(ws)
	if err != nil {
		return nil, err
	}
	if len(ws) == 1 {
		return s, nil
	}

	return s.Scale(1 / float64(len(ws))), nil
}
