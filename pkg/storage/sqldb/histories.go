package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/history"
)

type historyRepo struct {
	db *Database
}

func NewHistoryRepository(db *Database) *historyRepo {
	return &historyRepo{db: db}
}

type dbHistory struct {
	Name  string `db:"name"`
	Model string `db:"model"`
	Trial string `db:"trial"`
	Data  string `db:"data"`
}

func (r *historyRepo) Save(ctx context.Context, h history.History) error {
	if h.Name == "" {
		return pkgerrors.ErrEmptyKey
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	query := `INSERT INTO histories (name, model, trial, data) VALUES (:name, :model, :trial, :data)
		ON CONFLICT (name) DO UPDATE SET model = excluded.model, trial = excluded.trial, data = excluded.data`
	row := dbHistory{Name: h.Name, Model: h.Model, Trial: h.Trial, Data: string(data)}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}

	return nil
}

func (r *historyRepo) Get(ctx context.Context, name string) (history.History, error) {
	query := r.db.Rebind(`SELECT name, model, trial, data FROM histories WHERE name = ?`)

	var row dbHistory
	if err := r.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.History{}, pkgerrors.ErrNotFound
		}

		return history.History{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return decodeHistory(row)
}

func (r *historyRepo) List(ctx context.Context, offset, limit uint64) ([]history.History, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM histories`); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	query := r.db.Rebind(`SELECT name, model, trial, data FROM histories ORDER BY name LIMIT ? OFFSET ?`)
	var rows []dbHistory
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	out := make([]history.History, 0, len(rows))
	for _, row := range rows {
		h, err := decodeHistory(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, h)
	}

	return out, total, nil
}

func decodeHistory(row dbHistory) (history.History, error) {
	var h history.History
	if err := json.Unmarshal([]byte(row.Data), &h); err != nil {
		return history.History{}, fmt.Errorf("unmarshal error: %w", err)
	}

	return h, nil
}
