package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/trial"
)

type trialRepo struct {
	db *Database
}

// NewTrialRepository keeps each trial as a JSON document. Trial ids are
// time-ordered, so ordering by id is creation order.
func NewTrialRepository(db *Database) *trialRepo {
	return &trialRepo{db: db}
}

type dbTrial struct {
	ID     string  `db:"id"`
	Name   string  `db:"name"`
	Status string  `db:"status"`
	Metric float64 `db:"metric"`
	Data   string  `db:"data"`
}

func toDBTrial(t trial.Trial) (dbTrial, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return dbTrial{}, fmt.Errorf("marshal error: %w", err)
	}

	return dbTrial{ID: t.ID, Name: t.Name, Status: string(t.Status), Metric: t.Metric, Data: string(data)}, nil
}

func (d dbTrial) toTrial() (trial.Trial, error) {
	var t trial.Trial
	if err := json.Unmarshal([]byte(d.Data), &t); err != nil {
		return trial.Trial{}, fmt.Errorf("unmarshal error: %w", err)
	}

	return t, nil
}

func (r *trialRepo) Create(ctx context.Context, t trial.Trial) error {
	if t.ID == "" {
		return pkgerrors.ErrEmptyKey
	}
	row, err := toDBTrial(t)
	if err != nil {
		return err
	}

	query := `INSERT INTO trials (id, name, status, metric, data) VALUES (:id, :name, :status, :metric, :data)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *trialRepo) Update(ctx context.Context, t trial.Trial) error {
	row, err := toDBTrial(t)
	if err != nil {
		return err
	}

	query := `UPDATE trials SET name = :name, status = :status, metric = :metric, data = :data WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return pkgerrors.ErrNotFound
	}

	return nil
}

func (r *trialRepo) Get(ctx context.Context, id string) (trial.Trial, error) {
	query := r.db.Rebind(`SELECT id, name, status, metric, data FROM trials WHERE id = ?`)

	var row dbTrial
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return trial.Trial{}, pkgerrors.ErrNotFound
		}

		return trial.Trial{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return row.toTrial()
}

func (r *trialRepo) List(ctx context.Context, offset, limit uint64) ([]trial.Trial, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM trials`); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	query := r.db.Rebind(`SELECT id, name, status, metric, data FROM trials ORDER BY id LIMIT ? OFFSET ?`)
	var rows []dbTrial
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	trials := make([]trial.Trial, 0, len(rows))
	for _, row := range rows {
		t, err := row.toTrial()
		if err != nil {
			return nil, 0, err
		}
		trials = append(trials, t)
	}

	return trials, total, nil
}
