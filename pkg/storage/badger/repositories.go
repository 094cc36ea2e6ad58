package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/absmach/gradsync/pkg/history"
	"github.com/absmach/gradsync/pkg/trial"
)

const (
	trialPrefix   = "trial:"
	historyPrefix = "history:"
)

type trialRepo struct {
	db *Database
}

// NewTrialRepository stores trials under "trial:<id>". Trial ids are
// time-ordered, so key order is creation order.
func NewTrialRepository(db *Database) *trialRepo {
	return &trialRepo{db: db}
}

func (r *trialRepo) Create(ctx context.Context, t trial.Trial) error {
	val, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return r.db.create([]byte(trialPrefix+t.ID), val)
}

func (r *trialRepo) Update(ctx context.Context, t trial.Trial) error {
	val, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return r.db.replace([]byte(trialPrefix+t.ID), val)
}

func (r *trialRepo) Get(ctx context.Context, id string) (trial.Trial, error) {
	val, err := r.db.get([]byte(trialPrefix + id))
	if err != nil {
		return trial.Trial{}, err
	}
	var t trial.Trial
	if err := json.Unmarshal(val, &t); err != nil {
		return trial.Trial{}, fmt.Errorf("unmarshal error: %w", err)
	}

	return t, nil
}

func (r *trialRepo) List(ctx context.Context, offset, limit uint64) ([]trial.Trial, uint64, error) {
	return list[trial.Trial](r.db, []byte(trialPrefix), offset, limit)
}

type historyRepo struct {
	db *Database
}

func NewHistoryRepository(db *Database) *historyRepo {
	return &historyRepo{db: db}
}

func (r *historyRepo) Save(ctx context.Context, h history.History) error {
	val, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return r.db.set([]byte(historyPrefix+h.Name), val)
}

func (r *historyRepo) Get(ctx context.Context, name string) (history.History, error) {
	val, err := r.db.get([]byte(historyPrefix + name))
	if err != nil {
		return history.History{}, err
	}
	var h history.History
	if err := json.Unmarshal(val, &h); err != nil {
		return history.History{}, fmt.Errorf("unmarshal error: %w", err)
	}

	return h, nil
}

func (r *historyRepo) List(ctx context.Context, offset, limit uint64) ([]history.History, uint64, error) {
	return list[history.History](r.db, []byte(historyPrefix), offset, limit)
}

func list[T any](db *Database, prefix []byte, offset, limit uint64) ([]T, uint64, error) {
	total, err := db.countWithPrefix(prefix)
	if err != nil {
		return nil, 0, err
	}
	values, err := db.listWithPrefix(prefix, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]T, len(values))
	for i, val := range values {
		if err := json.Unmarshal(val, &out[i]); err != nil {
			return nil, 0, fmt.Errorf("unmarshal error: %w", err)
		}
	}

	return out, total, nil
}
