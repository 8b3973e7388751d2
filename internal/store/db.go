package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DB is the subset of *sql.DB the store needs, so *sql.DB satisfies it
// directly and tests can pass a sqlmock connection.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ DB = (*sql.DB)(nil)

// Open opens and pings a database/sql connection for driver.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if driver == "" || dsn == "" {
		return nil, fmt.Errorf("driver and dsn are required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if DialectFor(driver) == SQLite {
		db.SetMaxOpenConns(1) // SQLite single writer
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}
