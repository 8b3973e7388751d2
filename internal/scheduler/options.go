package scheduler

import (
	"github.com/rs/zerolog"

	"leasecron/internal/cronexpr"
	"leasecron/internal/metrics"
	"leasecron/internal/store"
	"leasecron/internal/timeprovider"
)

// DefaultColumnPrefix namespaces scheduler columns so the table can carry
// application columns too.
const DefaultColumnPrefix = "rdbms_scheduler_"

// Config configures an Engine.
type Config struct {
	DB store.DB
	// Driver is the database/sql driver name; it selects the SQL dialect
	// unless Dialect is set.
	Driver    string
	Dialect   store.Dialect
	TableName string
	// ColumnPrefix defaults to DefaultColumnPrefix. Set NoColumnPrefix for
	// bare column names.
	ColumnPrefix     string
	NoColumnPrefix   bool
	CreateAlterTable bool

	Logger *zerolog.Logger
	// TimeProvider replaces the database clock with a client clock for every
	// predicate. Leave nil in production so all workers share the server's
	// notion of now.
	TimeProvider timeprovider.Provider
	Evaluator    cronexpr.Evaluator
	Codec        Codec
	Metrics      *metrics.Metrics
	TokenFunc    func() string
}

type addOptions struct {
	leaseSeconds    *int64
	maxStaleSeconds *int64
	data            any
	hasData         bool
	offset          int64
	timeZone        string
	columns         map[string]any
}

// AddOption customizes a schedule row created by Add.
type AddOption func(*addOptions)

// WithLeaseSeconds overrides the default lease of half the cron period minus one.
func WithLeaseSeconds(n int64) AddOption {
	return func(o *addOptions) { o.leaseSeconds = &n }
}

// WithMaxStaleSeconds overrides the default tolerance of one period minus one.
func WithMaxStaleSeconds(n int64) AddOption {
	return func(o *addOptions) { o.maxStaleSeconds = &n }
}

// WithData attaches a payload. Structured values are encoded with the
// engine's Codec.
func WithData(v any) AddOption {
	return func(o *addOptions) { o.data, o.hasData = v, true }
}

// WithRunTimeOffset shifts the stored next run away from the nominal cron instant.
func WithRunTimeOffset(seconds int64) AddOption {
	return func(o *addOptions) { o.offset = seconds }
}

// WithTimeZone evaluates the cron expression in the named zone.
func WithTimeZone(name string) AddOption {
	return func(o *addOptions) { o.timeZone = name }
}

// WithColumn sets an additional column. The key is prefixed like every
// scheduler column, except "id".
func WithColumn(key string, value any) AddOption {
	return func(o *addOptions) {
		if o.columns == nil {
			o.columns = make(map[string]any)
		}
		o.columns[key] = value
	}
}

type pollOptions struct {
	limit        int
	updateStales bool
}

// PollOption customizes Poll.
type PollOption func(*pollOptions)

// WithLimit caps the number of candidates returned. It is advisory and
// reserves nothing.
func WithLimit(n int) PollOption {
	return func(o *pollOptions) { o.limit = n }
}

// SkipStaleUpdate skips the reconciliation pass Poll runs first by default.
func SkipStaleUpdate() PollOption {
	return func(o *pollOptions) { o.updateStales = false }
}
