package scheduler

import (
	"context"
	"fmt"

	"leasecron/internal/domain"
	"leasecron/internal/store"
)

// Get returns the schedule row with id.
func (e *Engine) Get(ctx context.Context, id int64) (domain.Row, error) {
	rows, err := e.table.Select(ctx, store.Query{
		Where: []store.Cond{store.Where("id = ?", id)},
		Limit: 1,
	})
	if err != nil {
		return domain.Row{}, err
	}
	if len(rows) == 0 {
		return domain.Row{}, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return rows[0], nil
}

// List returns up to limit rows ordered by id. A limit of 0 returns all rows.
func (e *Engine) List(ctx context.Context, limit int) ([]domain.Row, error) {
	return e.table.Select(ctx, store.Query{OrderBy: "id ASC", Limit: limit})
}

// Delete removes a schedule. A lease held on it simply stops mattering.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	n, err := e.table.Delete(ctx, store.Where("id = ?", id))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	e.log.Info().Int64("schedule_id", id).Msg("schedule deleted")
	return nil
}
