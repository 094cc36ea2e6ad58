package search

import (
	"context"

	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/absmach/gradsync/pkg/trial"
)

const pageSize = 100

// Service reads the trials recorded by a search.
type Service interface {
	ListTrials(ctx context.Context, offset, limit uint64) (trial.Page, error)
	GetTrial(ctx context.Context, id string) (Trial, error)
	// BestTrial is the completed trial with the best metric.
	BestTrial(ctx context.Context) (Trial, error)
}

type service struct {
	trials   storage.TrialRepository
	maximize bool
}

func NewService(trials storage.TrialRepository, maximize bool) Service {
	return &service{trials: trials, maximize: maximize}
}

func (svc *service) ListTrials(ctx context.Context, offset, limit uint64) (trial.Page, error) {
	trials, total, err := svc.trials.List(ctx, offset, limit)
	if err != nil {
		return trial.Page{}, err
	}

	return trial.Page{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Trials: trials,
	}, nil
}

func (svc *service) GetTrial(ctx context.Context, id string) (Trial, error) {
	if id == "" {
		return Trial{}, errors.ErrEmptyKey
	}

	return svc.trials.Get(ctx, id)
}

func (svc *service) BestTrial(ctx context.Context) (Trial, error) {
	var (
		best  Trial
		found bool
	)
	for offset := uint64(0); ; offset += pageSize {
		page, total, err := svc.trials.List(ctx, offset, pageSize)
		if err != nil {
			return Trial{}, err
		}
		for _, t := range page {
			if t.Status != trial.Completed {
				continue
			}
			if !found || svc.better(t.Metric, best.Metric) {
				best, found = t, true
			}
		}
		if offset+pageSize >= total || len(page) == 0 {
			break
		}
	}
	if !found {
		return Trial{}, errors.ErrNotFound
	}

	return best, nil
}

func (svc *service) better(a, b float64) bool {
	if svc.maximize {
		return a > b
	}

	return a < b
}
