package scheduler

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"leasecron/internal/cronexpr"
	"leasecron/internal/domain"
	"leasecron/internal/metrics"
	"leasecron/internal/store"
)

// Engine runs the lease protocol against one table. Every state transition
// is a single conditional UPDATE whose WHERE clause re-checks the
// precondition, so any number of processes may share the table.
type Engine struct {
	table   *store.Table
	epoch   store.Epoch
	now     func() time.Time
	cron    cronexpr.Evaluator
	codec   Codec
	token   func() string
	log     zerolog.Logger
	metrics *metrics.Metrics
	closer  io.Closer
}

// New builds an Engine on an open connection.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required: %w", ErrNotConfigured)
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name is required: %w", ErrNotConfigured)
	}

	dialect := cfg.Dialect
	if dialect == "" {
		dialect = store.DialectFor(cfg.Driver)
	}
	prefix := cfg.ColumnPrefix
	if prefix == "" && !cfg.NoColumnPrefix {
		prefix = DefaultColumnPrefix
	}
	table, err := store.NewTable(cfg.DB, dialect, cfg.TableName, prefix)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		table:   table,
		now:     time.Now,
		cron:    cfg.Evaluator,
		codec:   cfg.Codec,
		token:   cfg.TokenFunc,
		log:     log.Logger,
		metrics: cfg.Metrics,
	}
	if cfg.Logger != nil {
		e.log = *cfg.Logger
	}
	e.log = e.log.With().Str("table", cfg.TableName).Logger()
	if cfg.TimeProvider != nil {
		e.now = cfg.TimeProvider.Now
		e.epoch = store.ClientEpoch{Now: e.now}
	} else {
		e.epoch = store.ServerEpoch(dialect, e.now)
	}
	if e.cron == nil {
		e.cron = cronexpr.NewStandard()
	}
	if e.codec == nil {
		e.codec = JSONCodec{}
	}
	if e.token == nil {
		e.token = newToken
	}

	if cfg.CreateAlterTable {
		if err := table.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Open connects with driver and dsn and builds an Engine that owns the
// connection; Close releases it.
func Open(ctx context.Context, driver, dsn string, cfg Config) (*Engine, error) {
	db, err := store.Open(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	cfg.DB = db
	cfg.Driver = driver
	e, err := New(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.closer = db
	return e, nil
}

// Close releases the connection if the Engine opened it.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// Table exposes the underlying table.
func (e *Engine) Table() *store.Table { return e.table }

// Col maps a column key to its physical name.
func (e *Engine) Col(key string) string { return e.table.Col(key) }

// Now is the engine's client clock. Predicates use the database clock unless
// a TimeProvider was configured.
func (e *Engine) Now() time.Time { return e.now() }

// Add inserts a schedule row and returns its id. The nominal next run is the
// first cron match after now; the cron period (gap to the following match)
// only seeds the lease and staleness defaults.
func (e *Engine) Add(ctx context.Context, cronExpr string, opts ...AddOption) (int64, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	nominal, period, err := cronexpr.Period(e.cron, e.now(), cronExpr, o.timeZone)
	if err != nil {
		return 0, err
	}
	periodSeconds := int64(period / time.Second)
	lease := periodSeconds/2 - 1
	if o.leaseSeconds != nil {
		lease = *o.leaseSeconds
	}
	maxStale := periodSeconds - 1
	if o.maxStaleSeconds != nil {
		maxStale = *o.maxStaleSeconds
	}

	values := []store.Assign{
		store.Set(e.Col(domain.ColCron), cronExpr),
		store.Set(e.Col(domain.ColLeaseSeconds), lease),
		store.Set(e.Col(domain.ColMaxStaleSeconds), maxStale),
		store.Set(e.Col(domain.ColNextRunAt), nominal.Unix()+o.offset),
		store.Set(e.Col(domain.ColRunTimeOffsetSeconds), o.offset),
	}
	if o.hasData {
		data, err := e.codec.Encode(o.data)
		if err != nil {
			return 0, err
		}
		values = append(values, store.Set(e.Col(domain.ColData), data))
	}
	if o.timeZone != "" {
		values = append(values, store.Set(e.Col(domain.ColTimeZone), o.timeZone))
	}
	values, err = e.withColumns(values, o.columns)
	if err != nil {
		return 0, err
	}

	id, err := e.table.Insert(ctx, values)
	if err != nil {
		return 0, err
	}
	e.log.Debug().
		Int64("schedule_id", id).
		Str("cron", cronExpr).
		Int64("lease_seconds", lease).
		Int64("max_stale_seconds", maxStale).
		Time("next_run", time.Unix(nominal.Unix()+o.offset, 0)).
		Msg("schedule added")
	return id, nil
}

// withColumns merges caller columns into values; a caller column replaces a
// computed one of the same name.
func (e *Engine) withColumns(values []store.Assign, cols map[string]any) ([]store.Assign, error) {
	keys := make([]string, 0, len(cols))
	for k := range cols {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !store.ValidIdentifier(k) {
			return nil, fmt.Errorf("column %q: %w", k, store.ErrInvalidIdentifier)
		}
		a := store.Set(e.Col(k), cols[k])
		replaced := false
		for i := range values {
			if values[i].Column == a.Column {
				values[i], replaced = a, true
			}
		}
		if !replaced {
			values = append(values, a)
		}
	}
	return values, nil
}

// Poll returns the due, unleased rows as candidates, earliest first. Unless
// SkipStaleUpdate is given it first fast-forwards missed rows. Nothing is
// leased; see TaskCollection.AcquireAll.
func (e *Engine) Poll(ctx context.Context, opts ...PollOption) (*TaskCollection, error) {
	o := pollOptions{updateStales: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.updateStales {
		if _, err := e.UpdateStales(ctx); err != nil {
			return nil, err
		}
	}

	now := e.epoch.SQL()
	rows, err := e.table.Select(ctx, store.Query{
		Where:   append(e.dueWindow(now), store.Where(e.Col(domain.ColLeaseExpiresAt)+" <= "+now)),
		OrderBy: e.Col(domain.ColNextRunAt) + " ASC",
		Limit:   o.limit,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObservePoll(len(rows))
	return newTaskCollection(e, rows), nil
}

// UpdateStales fast-forwards rows that were due longer than their stale
// tolerance without being leased, and returns how many it rescheduled.
// Rows are first claimed with a fresh token so racing callers never process
// the same row twice.
func (e *Engine) UpdateStales(ctx context.Context) (int, error) {
	token := e.token()
	now := e.epoch.SQL()

	claimed, rows, err := e.table.MarkAndSelect(ctx,
		store.Set(e.Col(domain.ColToken), token),
		[]store.Assign{store.SetExpr(e.Col(domain.ColLeaseExpiresAt), now)},
		[]store.Cond{
			store.Where(e.Col(domain.ColNextRunAt) + " <= (" + now + " - " + e.Col(domain.ColMaxStaleSeconds) + ")"),
			store.Where(e.Col(domain.ColLeaseExpiresAt) + " <= " + now),
		},
	)
	if err != nil {
		return 0, err
	}
	if claimed == 0 {
		return 0, nil
	}

	var reconciled, failed int
	for _, row := range rows {
		next, err := e.nextRunAt(row)
		if err != nil {
			failed++
			e.log.Warn().Err(err).
				Int64("schedule_id", row.ID).
				Str("cron", row.Cron).
				Str("time_zone", row.Zone()).
				Msg("cannot reschedule stale row")
			continue
		}
		n, err := e.table.UpdateWhere(ctx,
			[]store.Assign{
				store.Set(e.Col(domain.ColNextRunAt), next),
				store.SetExpr(e.Col(domain.ColLeaseExpiresAt), "0"),
			},
			store.Where("id = ?", row.ID),
			store.Where(e.Col(domain.ColToken)+" = ?", token),
		)
		if err != nil {
			e.metrics.ObserveStales(reconciled, failed)
			return reconciled, err
		}
		reconciled += int(n)
	}

	e.metrics.ObserveStales(reconciled, failed)
	e.log.Debug().
		Int64("claimed", claimed).
		Int("count", reconciled).
		Int("failed", failed).
		Msg("stale schedules reconciled")
	return reconciled, nil
}

// AcquireAll leases every row in ids that is still due and not stale, all
// under one fresh token, and returns the rows this call owns. Rows lost to
// a faster acquirer, or whose lease already lapsed, are silently left out.
func (e *Engine) AcquireAll(ctx context.Context, ids []int64) (string, []domain.Row, error) {
	if len(ids) == 0 {
		return "", nil, nil
	}
	token := e.token()
	now := e.epoch.SQL()

	_, rows, err := e.table.MarkAndSelect(ctx,
		store.Set(e.Col(domain.ColToken), token),
		[]store.Assign{store.SetExpr(e.Col(domain.ColLeaseExpiresAt), "("+now+" + "+e.Col(domain.ColLeaseSeconds)+")")},
		append([]store.Cond{store.In("id", ids)}, e.dueWindow(now)...),
		// the read is a separate statement with its own now
		store.Where(e.epoch.SQL()+" < "+e.Col(domain.ColLeaseExpiresAt)),
	)
	if err != nil {
		return "", nil, err
	}
	e.metrics.ObserveAcquire(len(ids), len(rows))
	e.log.Debug().
		Str("token", shortToken(token)).
		Int("candidates", len(ids)).
		Int("count", len(rows)).
		Msg("schedules acquired")
	return token, rows, nil
}

// Finish completes the lease (id, token) and moves the row to its next cron
// instant. It returns the affected row count: 0 means the lease had expired
// or was superseded and the work may be repeated elsewhere.
func (e *Engine) Finish(ctx context.Context, id int64, token string) (int64, error) {
	rows, err := e.table.Select(ctx, store.Query{Where: []store.Cond{store.Where("id = ?", id)}, Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		e.metrics.ObserveFinish(false)
		return 0, nil
	}
	return e.FinishRow(ctx, rows[0], token)
}

// FinishRow is Finish with the cron, offset and zone taken from a row the
// caller already holds.
func (e *Engine) FinishRow(ctx context.Context, row domain.Row, token string) (int64, error) {
	next, err := e.nextRunAt(row)
	if err != nil {
		return 0, fmt.Errorf("finish schedule %d: %w", row.ID, err)
	}
	n, err := e.table.UpdateWhere(ctx,
		[]store.Assign{
			store.SetExpr(e.Col(domain.ColLeaseExpiresAt), "0"),
			store.Set(e.Col(domain.ColNextRunAt), next),
		},
		e.leaseHeld(row.ID, token)...,
	)
	if err != nil {
		return 0, err
	}
	e.metrics.ObserveFinish(n > 0)
	if n == 0 {
		e.log.Debug().Int64("schedule_id", row.ID).Str("token", shortToken(token)).Msg("finish matched no live lease")
	}
	return n, nil
}

// Retry releases the lease (id, token) without touching next_run_at, so the
// row is due again on the next poll if it is still inside its stale window.
func (e *Engine) Retry(ctx context.Context, id int64, token string) (int64, error) {
	n, err := e.table.UpdateWhere(ctx,
		[]store.Assign{store.SetExpr(e.Col(domain.ColLeaseExpiresAt), "0")},
		e.leaseHeld(id, token)...,
	)
	if err != nil {
		return 0, err
	}
	e.metrics.ObserveRetry(n > 0)
	if n == 0 {
		e.log.Debug().Int64("schedule_id", id).Str("token", shortToken(token)).Msg("retry matched no live lease")
	}
	return n, nil
}

// dueWindow: next_run_at has passed but by no more than max_stale_seconds.
func (e *Engine) dueWindow(now string) []store.Cond {
	next := e.Col(domain.ColNextRunAt)
	return []store.Cond{
		store.Where(next + " <= " + now),
		store.Where(next + " > (" + now + " - " + e.Col(domain.ColMaxStaleSeconds) + ")"),
	}
}

// leaseHeld matches only while (id, token) is the live, unexpired lease.
func (e *Engine) leaseHeld(id int64, token string) []store.Cond {
	return []store.Cond{
		store.Where("id = ?", id),
		store.Where(e.Col(domain.ColToken)+" = ?", token),
		store.Where(e.epoch.SQL() + " < " + e.Col(domain.ColLeaseExpiresAt)),
	}
}

// nextRunAt evaluates the cron on the offset-adjusted clock in the row's
// zone and re-applies the offset.
func (e *Engine) nextRunAt(row domain.Row) (int64, error) {
	offset := row.RunTimeOffsetSeconds
	ref := e.now().Add(-time.Duration(offset) * time.Second)
	next, err := e.cron.Next(ref, row.Cron, row.Zone())
	if err != nil {
		return 0, err
	}
	return next.Unix() + offset, nil
}

func newToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func shortToken(t string) string {
	if len(t) > 8 {
		return t[:8]
	}
	return t
}
