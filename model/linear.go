package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/device"
	"github.com/absmach/gradsync/pkg/weights"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	LossMSE = "mse"
	LossBCE = "bce"

	kernelName = "dense/kernel"
	biasName   = "dense/bias"
)

// Linear is a single dense layer, y = xK + b, with either a squared error
// head or a sigmoid cross entropy head. It runs on the CPU whatever device it
// was given.
type Linear struct {
	arch    Architecture
	dev     device.Context
	weights weights.Weights
}

var _ Model = (*Linear)(nil)

func NewLinear(arch Architecture, dev device.Context) *Linear {
	if arch.Loss == "" {
		arch.Loss = LossMSE
	}
	kernel := weights.NewTensor(kernelName, arch.Inputs, arch.Outputs)
	bias := weights.NewTensor(biasName, arch.Outputs)

	dist := distuv.Normal{Mu: 0, Sigma: arch.InitScale, Src: rand.NewPCG(arch.Seed, arch.Seed^0x9e3779b97f4a7c15)}
	for i := range kernel.Data {
		kernel.Data[i] = dist.Rand()
	}

	return &Linear{arch: arch, dev: dev, weights: weights.Weights{kernel, bias}}
}

func (l *Linear) Name() string { return l.arch.Name }

func (l *Linear) Device() device.Context { return l.dev }

func (l *Linear) Weights() weights.Weights { return l.weights.Clone() }

func (l *Linear) SetWeights(w weights.Weights) error {
	if err := l.weights.Compatible(w); err != nil {
		return err
	}
	l.weights = w.Clone()

	return nil
}

func (l *Linear) forward(x []float64) []float64 {
	k, b := l.weights[0].Data, l.weights[1].Data
	out := make([]float64, l.arch.Outputs)
	for j := range out {
		z := b[j]
		for a, v := range x {
			z += v * k[a*l.arch.Outputs+j]
		}
		if l.arch.Loss == LossBCE {
			z = sigmoid(z)
		}
		out[j] = z
	}

	return out
}

func (l *Linear) check(b data.Batch) error {
	if b.Len() == 0 {
		return data.ErrEmptySource
	}
	for i := range b.Features {
		if len(b.Features[i]) != l.arch.Inputs || len(b.Labels[i]) != l.arch.Outputs {
			return fmt.Errorf("row %d has %d features and %d labels, model expects %d and %d",
				i, len(b.Features[i]), len(b.Labels[i]), l.arch.Inputs, l.arch.Outputs)
		}
	}

	return nil
}

func (l *Linear) Gradients(ctx context.Context, b data.Batch) (weights.Weights, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := l.check(b); err != nil {
		return nil, 0, err
	}
	grad := l.weights.Zeros()
	gk, gb := grad[0].Data, grad[1].Data
	n := float64(b.Len())

	loss := 0.0
	for i, x := range b.Features {
		y := l.forward(x)
		for j, p := range y {
			t := b.Labels[i][j]
			loss += l.loss(p, t)
			// both heads share dL/dz = p - t
			dz := (p - t) / n
			gb[j] += dz
			for a, v := range x {
				gk[a*l.arch.Outputs+j] += v * dz
			}
		}
	}
	loss /= n

	if l.arch.L2 > 0 {
		k := l.weights[0].Data
		for i, v := range k {
			gk[i] += l.arch.L2 * v
			loss += 0.5 * l.arch.L2 * v * v
		}
	}

	return grad, loss, nil
}

func (l *Linear) Evaluate(ctx context.Context, b data.Batch) (Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.check(b); err != nil {
		return nil, err
	}
	loss, correct := 0.0, 0
	for i, x := range b.Features {
		for j, p := range l.forward(x) {
			t := b.Labels[i][j]
			loss += l.loss(p, t)
			if (p >= 0.5) == (t >= 0.5) {
				correct++
			}
		}
	}
	m := Metrics{"loss": loss / float64(b.Len())}
	if l.arch.Loss == LossBCE {
		m["accuracy"] = float64(correct) / float64(b.Len()*l.arch.Outputs)
	}

	return m, nil
}

func (l *Linear) loss(p, t float64) float64 {
	if l.arch.Loss == LossBCE {
		const eps = 1e-12
		p = math.Min(math.Max(p, eps), 1-eps)

		return -(t*math.Log(p) + (1-t)*math.Log(1-p))
	}
	d := p - t

	return 0.5 * d * d
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
