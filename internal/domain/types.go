package domain

import "time"

// Column keys of a schedule row. Physical column names are these keys with
// the table's column prefix prepended; ColID is never prefixed.
const (
	ColID                   = "id"
	ColCron                 = "cron"
	ColData                 = "data"
	ColLeaseSeconds         = "lease_seconds"
	ColToken                = "token"
	ColMaxStaleSeconds      = "max_stale_seconds"
	ColLeaseExpiresAt       = "lease_expires_at"
	ColNextRunAt            = "next_run_at"
	ColRunTimeOffsetSeconds = "run_time_offset_seconds"
	ColTimeZone             = "time_zone"
)

// Keys lists every scheduler column key except the primary key, in schema order.
var Keys = []string{
	ColCron,
	ColData,
	ColLeaseSeconds,
	ColToken,
	ColMaxStaleSeconds,
	ColLeaseExpiresAt,
	ColNextRunAt,
	ColRunTimeOffsetSeconds,
	ColTimeZone,
}

// Row is one scheduled task definition as stored in the shared table.
// Epoch fields are whole seconds. LeaseExpiresAt == 0 means not leased.
type Row struct {
	ID                   int64   `json:"id"`
	Cron                 string  `json:"cron"`
	Data                 *string `json:"data,omitempty"`
	LeaseSeconds         int64   `json:"lease_seconds"`
	Token                *string `json:"token,omitempty"`
	MaxStaleSeconds      int64   `json:"max_stale_seconds"`
	LeaseExpiresAt       int64   `json:"lease_expires_at"`
	NextRunAt            int64   `json:"next_run_at"`
	RunTimeOffsetSeconds int64   `json:"run_time_offset_seconds"`
	TimeZone             *string `json:"time_zone,omitempty"`

	// Extra holds any other columns of the table, keyed by physical name.
	Extra map[string]any `json:"extra,omitempty"`
}

// Leased reports whether the row holds a lease that is still valid at now.
func (r Row) Leased(now time.Time) bool {
	return r.LeaseExpiresAt != 0 && now.Unix() < r.LeaseExpiresAt
}

// NextRun returns NextRunAt as a time.
func (r Row) NextRun() time.Time { return time.Unix(r.NextRunAt, 0) }

// TrueNextRun is the instant the row represents, before the run time offset
// was applied.
func (r Row) TrueNextRun() time.Time {
	return time.Unix(r.NextRunAt-r.RunTimeOffsetSeconds, 0)
}

// Zone returns the row's time zone name, or "" when unset.
func (r Row) Zone() string {
	if r.TimeZone == nil {
		return ""
	}
	return *r.TimeZone
}
