// Package storage persists search trials and training histories.
package storage

import (
	"context"
	"io"

	"github.com/absmach/gradsync/pkg/history"
	"github.com/absmach/gradsync/pkg/trial"
)

type TrialRepository interface {
	Create(ctx context.Context, t trial.Trial) error
	Update(ctx context.Context, t trial.Trial) error
	Get(ctx context.Context, id string) (trial.Trial, error)
	// List returns trials in creation order along with the total count.
	List(ctx context.Context, offset, limit uint64) ([]trial.Trial, uint64, error)
}

type HistoryRepository interface {
	// Save inserts or replaces the history with the same name.
	Save(ctx context.Context, h history.History) error
	Get(ctx context.Context, name string) (history.History, error)
	List(ctx context.Context, offset, limit uint64) ([]history.History, uint64, error)
}

type Repositories struct {
	Trials    TrialRepository
	Histories HistoryRepository
	// Closer closes the underlying persistent storage connection.
	// It is nil for the in-memory backend.
	Closer io.Closer
}

func (r *Repositories) Close() error {
	if r.Closer == nil {
		return nil
	}

	return r.Closer.Close()
}
