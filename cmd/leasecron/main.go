package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"leasecron/internal/api"
	"leasecron/internal/handlers/webhook"
	"leasecron/internal/metrics"
	"leasecron/internal/scheduler"
	"leasecron/internal/store"
	"leasecron/internal/worker"
)

func main() {
	var (
		driver    = flag.String("driver", envOr("LEASECRON_DRIVER", "sqlite"), "database/sql driver: sqlite, mysql, pgx or postgres")
		dsn       = flag.String("dsn", envOr("LEASECRON_DSN", "leasecron.db"), "data source name; a bare path for sqlite")
		table     = flag.String("table", "schedules", "schedule table name")
		prefix    = flag.String("prefix", scheduler.DefaultColumnPrefix, "column prefix; empty for bare names")
		bootstrap = flag.Bool("bootstrap", true, "create or alter the table on startup")
		addr      = flag.String("addr", ":8080", "HTTP bind address; empty disables the API")
		workers   = flag.Int("workers", 8, "concurrent task handlers")
		batch     = flag.Int("batch", 0, "poll limit per cycle (defaults to workers)")
		poll      = flag.Duration("poll", time.Second, "poll interval")
		hook      = flag.String("webhook", "", "POST each leased task to this URL; tasks are only logged when empty")
		logJSON   = flag.Bool("log-json", false, "log JSON instead of console output")
		debug     = flag.Bool("debug", false, "debug logging and pprof routes")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if !*logJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config{
		driver: *driver, dsn: *dsn, table: *table, prefix: *prefix, bootstrap: *bootstrap,
		addr: *addr, workers: *workers, batch: *batch, poll: *poll, webhook: *hook, debug: *debug,
	}); err != nil {
		log.Fatal().Err(err).Msg("leasecron")
	}
}

type config struct {
	driver, dsn, table, prefix string
	bootstrap                  bool
	addr                       string
	workers, batch             int
	poll                       time.Duration
	webhook                    string
	debug                      bool
}

func run(ctx context.Context, c config) error {
	dsn := c.dsn
	if store.DialectFor(c.driver) == store.SQLite && !strings.HasPrefix(dsn, "file:") {
		dsn = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", dsn)
	}
	db, err := store.Open(ctx, c.driver, dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	dialect := store.DialectFor(c.driver)
	if drift, err := store.ClockDrift(ctx, db, dialect, time.Now); err == nil {
		ev := log.Info()
		if drift > 2*time.Second || drift < -2*time.Second {
			ev = log.Warn()
		}
		ev.Dur("drift", drift).Str("dialect", string(dialect)).Msg("database clock drift")
	} else if !errors.Is(err, store.ErrNoServerClock) {
		log.Warn().Err(err).Msg("clock drift check")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := scheduler.New(ctx, scheduler.Config{
		DB:               db,
		Driver:           c.driver,
		TableName:        c.table,
		ColumnPrefix:     c.prefix,
		NoColumnPrefix:   c.prefix == "",
		CreateAlterTable: c.bootstrap,
		Metrics:          metrics.New(reg),
	})
	if err != nil {
		return err
	}

	var handler worker.Handler = worker.HandlerFunc(func(ctx context.Context, task *scheduler.Task) error {
		log.Info().
			Int64("schedule_id", task.ID()).
			Time("true_next_run_at", task.TrueNextRunAt()).
			Interface("data", task.Data()).
			Msg("task due")
		return nil
	})
	if c.webhook != "" {
		handler = webhook.New(c.webhook)
	}
	pool := worker.NewPool(engine, handler, worker.Options{Size: c.workers, Batch: c.batch, PollEvery: c.poll})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("workers", c.workers).Dur("poll", c.poll).Str("table", c.table).Msg("worker pool starting")
		pool.Run(ctx)
		return nil
	})

	if c.addr != "" {
		srv := &http.Server{Addr: c.addr, Handler: api.NewServerWithDebug(engine, reg, c.debug)}
		g.Go(func() error {
			log.Info().Str("addr", c.addr).Msg("HTTP server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
