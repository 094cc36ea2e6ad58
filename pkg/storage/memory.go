package storage

import (
	"context"
	"sync"

	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/history"
	"github.com/absmach/gradsync/pkg/trial"
)

// inMemoryStorage is a keyed store that remembers insertion order.
type inMemoryStorage[T any] struct {
	sync.Mutex

	keys []string
	data map[string]T
}

func newInMemoryStorage[T any]() *inMemoryStorage[T] {
	return &inMemoryStorage[T]{data: make(map[string]T)}
}

func (s *inMemoryStorage[T]) create(key string, value T) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; ok {
		return errors.ErrEntityExists
	}
	s.keys = append(s.keys, key)
	s.data[key] = value

	return nil
}

func (s *inMemoryStorage[T]) put(key string, value T, mustExist bool) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; !ok {
		if mustExist {
			return errors.ErrNotFound
		}
		s.keys = append(s.keys, key)
	}
	s.data[key] = value

	return nil
}

func (s *inMemoryStorage[T]) get(key string) (T, error) {
	var zero T
	if key == "" {
		return zero, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if val, ok := s.data[key]; ok {
		return val, nil
	}

	return zero, errors.ErrNotFound
}

func (s *inMemoryStorage[T]) list(offset, limit uint64) ([]T, uint64) {
	s.Lock()
	defer s.Unlock()

	total := uint64(len(s.keys))
	if offset >= total {
		return []T{}, total
	}
	end := min(offset+limit, total)

	result := make([]T, 0, end-offset)
	for _, k := range s.keys[offset:end] {
		result = append(result, s.data[k])
	}

	return result, total
}

type memoryTrialRepository struct {
	store *inMemoryStorage[trial.Trial]
}

func NewMemoryTrialRepository() TrialRepository {
	return &memoryTrialRepository{store: newInMemoryStorage[trial.Trial]()}
}

func (r *memoryTrialRepository) Create(_ context.Context, t trial.Trial) error {
	return r.store.create(t.ID, t)
}

func (r *memoryTrialRepository) Update(_ context.Context, t trial.Trial) error {
	return r.store.put(t.ID, t, true)
}

func (r *memoryTrialRepository) Get(_ context.Context, id string) (trial.Trial, error) {
	return r.store.get(id)
}

func (r *memoryTrialRepository) List(_ context.Context, offset, limit uint64) ([]trial.Trial, uint64, error) {
	items, total := r.store.list(offset, limit)

	return items, total, nil
}

type memoryHistoryRepository struct {
	store *inMemoryStorage[history.History]
}

func NewMemoryHistoryRepository() HistoryRepository {
	return &memoryHistoryRepository{store: newInMemoryStorage[history.History]()}
}

func (r *memoryHistoryRepository) Save(_ context.Context, h history.History) error {
	return r.store.put(h.Name, h, false)
}

func (r *memoryHistoryRepository) Get(_ context.Context, name string) (history.History, error) {
	return r.store.get(name)
}

func (r *memoryHistoryRepository) List(_ context.Context, offset, limit uint64) ([]history.History, uint64, error) {
	items, total := r.store.list(offset, limit)

	return items, total, nil
}
