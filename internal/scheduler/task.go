package scheduler

import (
	"context"
	"errors"
	"time"

	"leasecron/internal/domain"
)

// Task is a leased schedule row. It is only produced by
// TaskCollection.AcquireAll and carries the (id, token) capability needed to
// finish or retry the lease.
type Task struct {
	engine *Engine
	token  string
	id     int64
	data   any
	row    domain.Row
}

func (t *Task) ID() int64       { return t.id }
func (t *Task) Token() string   { return t.token }
func (t *Task) Data() any       { return t.data }
func (t *Task) Row() domain.Row { return t.row }

// Decode unmarshals the stored payload into v with the engine's codec. A row
// without data leaves v untouched.
func (t *Task) Decode(v any) error {
	if t.row.Data == nil {
		return nil
	}
	if err := t.engine.codec.Unmarshal(*t.row.Data, v); err != nil {
		return &DecodeError{ID: t.id, Token: t.token, Err: err}
	}
	return nil
}

// TrueNextRunAt is the instant the cron expression nominally fired, before
// the run time offset was applied.
func (t *Task) TrueNextRunAt() time.Time {
	return t.row.TrueNextRun()
}

// Finish completes the lease and reschedules the row. False means the lease
// had already expired or been superseded.
func (t *Task) Finish(ctx context.Context) (bool, error) {
	n, err := t.engine.FinishRow(ctx, t.row, t.token)
	return n > 0, err
}

// Retry releases the lease so the row is due again on the next poll.
func (t *Task) Retry(ctx context.Context) (bool, error) {
	n, err := t.engine.Retry(ctx, t.id, t.token)
	return n > 0, err
}

// TaskCollection holds the candidates returned by Poll. Nothing in it is
// owned until AcquireAll succeeds.
type TaskCollection struct {
	engine *Engine
	rows   []domain.Row
	token  string
	tasks  []*Task
}

func newTaskCollection(e *Engine, rows []domain.Row) *TaskCollection {
	return &TaskCollection{engine: e, rows: rows}
}

func (c *TaskCollection) Rows() []domain.Row { return c.rows }
func (c *TaskCollection) Len() int           { return len(c.rows) }

// Token is empty until AcquireAll has run.
func (c *TaskCollection) Token() string { return c.token }

// Tasks returns the tasks owned by the last AcquireAll.
func (c *TaskCollection) Tasks() []*Task { return c.tasks }

func (c *TaskCollection) IDs() []int64 {
	ids := make([]int64, len(c.rows))
	for i, r := range c.rows {
		ids[i] = r.ID
	}
	return ids
}

// AcquireAll leases every candidate that is still available and returns the
// tasks this caller now owns. A subset is success. Calling it again issues a
// fresh attempt against current table state using the same candidate ids.
//
// Rows whose payload cannot be decoded stay leased but are left out of the
// result; the returned error joins one *DecodeError per such row.
func (c *TaskCollection) AcquireAll(ctx context.Context) ([]*Task, error) {
	if len(c.rows) == 0 {
		c.tasks = []*Task{}
		return c.tasks, nil
	}

	token, rows, err := c.engine.AcquireAll(ctx, c.IDs())
	if err != nil {
		return nil, err
	}
	c.token = token

	tasks := make([]*Task, 0, len(rows))
	var errs []error
	for _, row := range rows {
		data, err := c.engine.codec.Decode(row.Data)
		if err != nil {
			errs = append(errs, &DecodeError{ID: row.ID, Token: token, Err: err})
			continue
		}
		tasks = append(tasks, &Task{
			engine: c.engine,
			token:  token,
			id:     row.ID,
			data:   data,
			row:    row,
		})
	}
	c.tasks = tasks
	return tasks, errors.Join(errs...)
}
