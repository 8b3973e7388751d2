// Package worker drives an Engine on a ticker: poll, acquire, hand each task
// to a caller Handler, then finish or retry the lease.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"leasecron/internal/scheduler"
)

// Handler does the work for one leased task. A nil error finishes the lease
// and reschedules the row; any error releases it for an immediate retry.
type Handler interface {
	Handle(ctx context.Context, task *scheduler.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *scheduler.Task) error

func (f HandlerFunc) Handle(ctx context.Context, task *scheduler.Task) error { return f(ctx, task) }

// Engine is the part of *scheduler.Engine the pool drives.
type Engine interface {
	Poll(ctx context.Context, opts ...scheduler.PollOption) (*scheduler.TaskCollection, error)
}

type Pool struct {
	engine    Engine
	handler   Handler
	sem       chan struct{}
	batch     int
	pollEvery time.Duration
	log       zerolog.Logger
	wg        sync.WaitGroup
}

// Options tune a Pool. Zero values pick the defaults.
type Options struct {
	Size      int
	Batch     int
	PollEvery time.Duration
	Logger    *zerolog.Logger
}

func NewPool(engine Engine, handler Handler, opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = 8
	}
	if opts.Batch <= 0 {
		opts.Batch = opts.Size
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = time.Second
	}
	l := log.Logger
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Pool{
		engine:    engine,
		handler:   handler,
		sem:       make(chan struct{}, opts.Size),
		batch:     opts.Batch,
		pollEvery: opts.PollEvery,
		log:       l.With().Str("component", "worker").Logger(),
	}
}

// Run ticks until ctx is done, then waits for in-flight handlers.
func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("poll cycle failed")
			}
		}
	}
}

// Tick runs one poll/acquire cycle and dispatches the owned tasks. It
// returns how many tasks were dispatched; use Wait to block until they are
// handled.
func (p *Pool) Tick(ctx context.Context) (int, error) {
	c, err := p.engine.Poll(ctx, scheduler.WithLimit(p.batch))
	if err != nil {
		return 0, err
	}
	tasks, err := c.AcquireAll(ctx)
	if err != nil {
		failed := decodeErrors(err)
		if len(failed) == 0 {
			return 0, err
		}
		// undecodable rows keep their lease and come back once it lapses
		for _, de := range failed {
			p.log.Warn().Err(de.Err).Int64("schedule_id", de.ID).Msg("skipping undecodable payload")
		}
	}

	for _, task := range tasks {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		p.wg.Add(1)
		go func(tk *scheduler.Task) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.handle(ctx, tk)
		}(task)
	}
	return len(tasks), nil
}

// Wait blocks until every dispatched handler has returned.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) handle(ctx context.Context, task *scheduler.Task) {
	l := p.log.With().Int64("schedule_id", task.ID()).Logger()
	// the lease is only good for lease_seconds
	hctx, cancel := context.WithTimeout(ctx, time.Duration(task.Row().LeaseSeconds)*time.Second)
	defer cancel()

	if err := p.handler.Handle(hctx, task); err != nil {
		l.Warn().Err(err).Msg("task failed, releasing lease")
		if _, rerr := task.Retry(context.WithoutCancel(ctx)); rerr != nil {
			l.Error().Err(rerr).Msg("retry")
		}
		return
	}

	ok, err := task.Finish(context.WithoutCancel(ctx))
	switch {
	case err != nil:
		l.Error().Err(err).Msg("finish")
	case !ok:
		l.Warn().Msg("finished after the lease was lost; the run may repeat")
	default:
		l.Debug().Time("true_next_run_at", task.TrueNextRunAt()).Msg("task finished")
	}
}

// decodeErrors collects every *scheduler.DecodeError in err, including each
// branch of a joined error.
func decodeErrors(err error) []*scheduler.DecodeError {
	if de, ok := err.(*scheduler.DecodeError); ok {
		return []*scheduler.DecodeError{de}
	}
	var out []*scheduler.DecodeError
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			out = append(out, decodeErrors(e)...)
		}
	case interface{ Unwrap() error }:
		if inner := x.Unwrap(); inner != nil {
			out = decodeErrors(inner)
		}
	}
	return out
}
