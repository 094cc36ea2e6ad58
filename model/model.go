// Package model defines the replica interface the training layer drives and
// the builders that create replicas.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/device"
	"github.com/absmach/gradsync/pkg/weights"
)

// Metrics maps a metric name such as "loss" or "accuracy" to its value.
type Metrics map[string]float64

type Model interface {
	Name() string
	Weights() weights.Weights
	SetWeights(w weights.Weights) error
	// Gradients returns dLoss/dWeights at the current weights and the loss.
	Gradients(ctx context.Context, b data.Batch) (weights.Weights, float64, error)
	Evaluate(ctx context.Context, b data.Batch) (Metrics, error)
}

// Params are hyperparameters forwarded to a builder, usually from a search
// trial.
type Params map[string]any

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return def
	}
}

// Builder creates a fresh replica. Every rank builds its own.
type Builder interface {
	Name() string
	Build(ctx context.Context, dev device.Context, params Params) (Model, error)
}

type BuildFunc func(ctx context.Context, dev device.Context, params Params) (Model, error)

type funcBuilder struct {
	name string
	fn   BuildFunc
}

// FromFunc wraps a user supplied constructor.
func FromFunc(name string, fn BuildFunc) Builder {
	return &funcBuilder{name: name, fn: fn}
}

func (b *funcBuilder) Name() string { return b.name }

func (b *funcBuilder) Build(ctx context.Context, dev device.Context, params Params) (Model, error) {
	return b.fn(ctx, dev, params)
}

// Architecture is the serialized description read by FromArchitecture.
type Architecture struct {
	Name      string  `json:"name"`
	Inputs    int     `json:"inputs"`
	Outputs   int     `json:"outputs"`
	Loss      string  `json:"loss"`
	InitScale float64 `json:"init_scale"`
	L2        float64 `json:"l2"`
	Seed      uint64  `json:"seed"`
}

type archBuilder struct {
	arch Architecture
}

// FromArchitecture loads a JSON architecture file. The model name defaults to
// the file name without extension.
func FromArchitecture(path string) (Builder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read architecture: %w", err)
	}
	var arch Architecture
	if err := json.Unmarshal(raw, &arch); err != nil {
		return nil, fmt.Errorf("failed to parse architecture %s: %w", path, err)
	}
	if arch.Name == "" {
		arch.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return FromSpec(arch)
}

// FromSpec builds from an in-memory architecture.
func FromSpec(arch Architecture) (Builder, error) {
	if arch.Inputs < 1 || arch.Outputs < 1 {
		return nil, fmt.Errorf("architecture %q needs positive inputs and outputs", arch.Name)
	}
	switch arch.Loss {
	case "":
		arch.Loss = LossMSE
	case LossMSE, LossBCE:
	default:
		return nil, fmt.Errorf("architecture %q: unknown loss %q", arch.Name, arch.Loss)
	}
	if arch.InitScale == 0 {
		arch.InitScale = 0.1
	}

	return &archBuilder{arch: arch}, nil
}

func (b *archBuilder) Name() string { return b.arch.Name }

func (b *archBuilder) Build(ctx context.Context, dev device.Context, params Params) (Model, error) {
	arch := b.arch
	arch.InitScale = params.Float("init_scale", arch.InitScale)
	arch.L2 = params.Float("l2", arch.L2)
	arch.Seed = uint64(params.Float("seed", float64(arch.Seed)))

	return NewLinear(arch, dev), nil
}
