package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoServerClock is returned by ClockDrift for dialects without a known
// server epoch expression.
var ErrNoServerClock = errors.New("dialect has no server clock expression")

// ClockDrift measures the database clock against now, at whole-second
// resolution. A positive result means the server is ahead.
func ClockDrift(ctx context.Context, db DB, d Dialect, now func() time.Time) (time.Duration, error) {
	expr := serverEpochSQL(d)
	if expr == "" {
		return 0, ErrNoServerClock
	}
	if now == nil {
		now = time.Now
	}

	driftCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var server int64
	if err := db.QueryRowContext(driftCtx, "SELECT "+expr).Scan(&server); err != nil {
		return 0, fmt.Errorf("read server clock: %w", err)
	}
	return time.Duration(server-now().Unix()) * time.Second, nil
}
