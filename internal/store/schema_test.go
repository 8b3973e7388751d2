package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"leasecron/internal/domain"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureSchemaCreatesTableAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	table, err := NewTable(db, SQLite, "cron_tasks", "rdbms_scheduler_")
	require.NoError(t, err)

	require.NoError(t, table.EnsureSchema(ctx))
	require.NoError(t, table.EnsureSchema(ctx))

	cols, err := table.Columns(ctx)
	require.NoError(t, err)
	assert.True(t, cols["id"])
	for _, key := range domain.Keys {
		assert.True(t, cols["rdbms_scheduler_"+key], key)
	}

	var indexes int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = 'cron_tasks' AND name LIKE '%_idx'`).Scan(&indexes))
	assert.Equal(t, 3, indexes)
}

func TestEnsureSchemaAltersExistingTable(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE reports (id INTEGER PRIMARY KEY AUTOINCREMENT, owner TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO reports (owner) VALUES ('billing')`)
	require.NoError(t, err)

	table, err := NewTable(db, SQLite, "reports", "s_")
	require.NoError(t, err)
	require.NoError(t, table.EnsureSchema(ctx))

	rows, err := table.Select(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "billing", rows[0].Extra["owner"])
	assert.Equal(t, int64(0), rows[0].LeaseExpiresAt)
	assert.Equal(t, "", rows[0].Cron)
}

func TestEnsureSchemaMySQLInlinesIndexes(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	table, err := NewTable(db, MySQL, "jobs", "x_")
	require.NoError(t, err)

	create := "CREATE TABLE IF NOT EXISTS jobs (\n" +
		"  id BIGINT AUTO_INCREMENT PRIMARY KEY,\n" +
		"  x_cron VARCHAR(255) NOT NULL,\n" +
		"  x_data TEXT,\n" +
		"  x_lease_seconds BIGINT NOT NULL,\n" +
		"  x_token VARCHAR(255),\n" +
		"  x_max_stale_seconds BIGINT NOT NULL,\n" +
		"  x_lease_expires_at BIGINT NOT NULL DEFAULT 0,\n" +
		"  x_next_run_at BIGINT NOT NULL,\n" +
		"  x_run_time_offset_seconds BIGINT DEFAULT 0,\n" +
		"  x_time_zone VARCHAR(255),\n" +
		"  INDEX jobs_x_token_idx (x_token),\n" +
		"  INDEX jobs_x_lease_expires_at_idx (x_lease_expires_at),\n" +
		"  INDEX jobs_x_next_run_at_idx (x_next_run_at)\n" +
		")"
	mock.ExpectExec(create).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT * FROM jobs WHERE 1 = 0").
		WillReturnRows(sqlmock.NewRows([]string{"id", "x_cron", "x_data", "x_lease_seconds", "x_token",
			"x_max_stale_seconds", "x_lease_expires_at", "x_next_run_at", "x_run_time_offset_seconds"}))
	mock.ExpectExec("ALTER TABLE jobs ADD COLUMN x_time_zone VARCHAR(255)").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, table.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
