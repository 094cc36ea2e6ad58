// Package data provides the batch sources that feed training and validation.
package data

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrEmptySource = errors.New("data source has no examples")

// Batch is a set of examples; row i of Features pairs with row i of Labels.
type Batch struct {
	Features [][]float64
	Labels   [][]float64
}

func (b Batch) Len() int { return len(b.Features) }

// Source yields batches in a fixed order. Next returns io.EOF once the epoch
// is exhausted; Reset starts a new epoch.
type Source interface {
	Next(ctx context.Context) (Batch, error)
	Reset()
	// Len is the number of examples in one epoch.
	Len() int
	BatchSize() int
}

// Memory is a Source over rows held in memory.
type Memory struct {
	features [][]float64
	labels   [][]float64
	batch    int
	pos      int
}

var _ Source = (*Memory)(nil)

func NewMemory(features, labels [][]float64, batchSize int) (*Memory, error) {
	if len(features) != len(labels) {
		return nil, fmt.Errorf("features and labels differ in length: %d vs %d", len(features), len(labels))
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	return &Memory{features: features, labels: labels, batch: batchSize}, nil
}

func (m *Memory) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if len(m.features) == 0 {
		return Batch{}, ErrEmptySource
	}
	if m.pos >= len(m.features) {
		return Batch{}, io.EOF
	}
	end := min(m.pos+m.batch, len(m.features))
	b := Batch{Features: m.features[m.pos:end], Labels: m.labels[m.pos:end]}
	m.pos = end

	return b, nil
}

func (m *Memory) Reset() { m.pos = 0 }

func (m *Memory) Len() int { return len(m.features) }

func (m *Memory) BatchSize() int { return m.batch }

// Shard keeps every count-th row starting at index, so that count workers
// cover the data once between them.
func (m *Memory) Shard(index, count int) *Memory {
	if count <= 1 {
		return &Memory{features: m.features, labels: m.labels, batch: m.batch}
	}
	out := &Memory{batch: m.batch}
	for i := index; i < len(m.features); i += count {
		out.features = append(out.features, m.features[i])
		out.labels = append(out.labels, m.labels[i])
	}

	return out
}

// Batches is the number of batches Next yields per epoch.
func Batches(s Source) int {
	if s.BatchSize() < 1 {
		return 0
	}

	return (s.Len() + s.BatchSize() - 1) / s.BatchSize()
}
