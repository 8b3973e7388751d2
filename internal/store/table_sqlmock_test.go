package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leasecron/internal/domain"
)

var rowColumns = []string{
	"id", "p_cron", "p_data", "p_lease_seconds", "p_token", "p_max_stale_seconds",
	"p_lease_expires_at", "p_next_run_at", "p_run_time_offset_seconds", "p_time_zone",
}

func newMockTable(t *testing.T, d Dialect) (*Table, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	table, err := NewTable(db, d, "schedules", "p_")
	require.NoError(t, err)
	return table, mock
}

func TestNewTableRejectsBadIdentifiers(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewTable(db, SQLite, "schedules; DROP TABLE x", "p_")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = NewTable(db, SQLite, "schedules", "bad-prefix")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = NewTable(nil, SQLite, "schedules", "p_")
	assert.Error(t, err)
}

func TestColKeepsIDUnprefixed(t *testing.T) {
	table, _ := newMockTable(t, SQLite)
	assert.Equal(t, "id", table.Col(domain.ColID))
	assert.Equal(t, "p_next_run_at", table.Col(domain.ColNextRunAt))
}

func TestUpdateWhere_SQLite(t *testing.T) {
	table, mock := newMockTable(t, SQLite)

	mock.ExpectExec("UPDATE schedules SET p_lease_expires_at = 0 WHERE id = ? AND p_token = ? AND 100 < p_lease_expires_at").
		WithArgs(int64(7), "tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := table.UpdateWhere(context.Background(),
		[]Assign{SetExpr("p_lease_expires_at", "0")},
		Where("id = ?", int64(7)),
		Where("p_token = ?", "tok"),
		Where("100 < p_lease_expires_at"),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWhere_PostgresRebindsPlaceholders(t *testing.T) {
	table, mock := newMockTable(t, Postgres)

	mock.ExpectExec("UPDATE schedules SET p_next_run_at = $1, p_lease_expires_at = 0 WHERE id = $2 AND p_token = $3").
		WithArgs(int64(3600), int64(7), "tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := table.UpdateWhere(context.Background(),
		[]Assign{Set("p_next_run_at", int64(3600)), SetExpr("p_lease_expires_at", "0")},
		Where("id = ?", int64(7)),
		Where("p_token = ?", "tok"),
	)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWhere_WrapsDriverError(t *testing.T) {
	table, mock := newMockTable(t, SQLite)
	boom := errors.New("boom")
	mock.ExpectExec("UPDATE schedules SET p_token = ?").WithArgs("x").WillReturnError(boom)

	_, err := table.UpdateWhere(context.Background(), []Assign{Set("p_token", "x")})
	assert.ErrorIs(t, err, boom)
}

func TestMarkAndSelect_ReselectsByMarker(t *testing.T) {
	table, mock := newMockTable(t, SQLite)
	ctx := context.Background()

	mock.ExpectExec("UPDATE schedules SET p_lease_expires_at = (100 + p_lease_seconds), p_token = ? WHERE id IN (?, ?) AND p_next_run_at <= 100").
		WithArgs("tok", int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT * FROM schedules WHERE p_token = ? AND 100 < p_lease_expires_at").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow(int64(1), "0 * * * *", `{"a":1}`, int64(1799), "tok", int64(3599), int64(1899), int64(90), int64(0), nil))

	n, rows, err := table.MarkAndSelect(ctx,
		Set("p_token", "tok"),
		[]Assign{SetExpr("p_lease_expires_at", "(100 + p_lease_seconds)")},
		[]Cond{In("id", []int64{1, 2}), Where("p_next_run_at <= 100")},
		Where("100 < p_lease_expires_at"),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, int64(1), r.ID)
	assert.Equal(t, "0 * * * *", r.Cron)
	require.NotNil(t, r.Data)
	assert.Equal(t, `{"a":1}`, *r.Data)
	require.NotNil(t, r.Token)
	assert.Equal(t, "tok", *r.Token)
	assert.Equal(t, int64(1899), r.LeaseExpiresAt)
	assert.Nil(t, r.TimeZone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAndSelect_SkipsReadWhenNothingMatched(t *testing.T) {
	table, mock := newMockTable(t, SQLite)

	mock.ExpectExec("UPDATE schedules SET p_token = ? WHERE id IN (?)").
		WithArgs("tok", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, rows, err := table.MarkAndSelect(context.Background(), Set("p_token", "tok"), nil, []Cond{In("id", []int64{9})})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_OrderAndLimit(t *testing.T) {
	table, mock := newMockTable(t, Postgres)

	mock.ExpectQuery("SELECT * FROM schedules WHERE p_next_run_at <= $1 ORDER BY p_next_run_at ASC LIMIT 5").
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(append(rowColumns, "owner")).
			AddRow(int64(4), []byte("*/5 * * * *"), nil, []byte("149"), nil, int64(299), int64(0), int64(100), nil, []byte("UTC"), []byte("billing")))

	rows, err := table.Select(context.Background(), Query{
		Where:   []Cond{Where("p_next_run_at <= ?", int64(100))},
		OrderBy: "p_next_run_at ASC",
		Limit:   5,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "*/5 * * * *", rows[0].Cron)
	assert.Equal(t, int64(149), rows[0].LeaseSeconds)
	assert.Equal(t, "UTC", rows[0].Zone())
	assert.Equal(t, "billing", rows[0].Extra["owner"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_PostgresUsesReturning(t *testing.T) {
	table, mock := newMockTable(t, Postgres)

	mock.ExpectQuery("INSERT INTO schedules (p_cron, p_next_run_at) VALUES ($1, $2) RETURNING id").
		WithArgs("0 * * * *", int64(3600)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := table.Insert(context.Background(), []Assign{Set("p_cron", "0 * * * *"), Set("p_next_run_at", int64(3600))})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_SQLiteUsesLastInsertID(t *testing.T) {
	table, mock := newMockTable(t, SQLite)

	mock.ExpectExec("INSERT INTO schedules (p_cron) VALUES (?)").
		WithArgs("0 * * * *").
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := table.Insert(context.Background(), []Assign{Set("p_cron", "0 * * * *")})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	table, mock := newMockTable(t, MySQL)

	mock.ExpectExec("DELETE FROM schedules WHERE id = ?").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := table.Delete(context.Background(), Where("id = ?", int64(5)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_WrapsRowsAffectedError(t *testing.T) {
	table, mock := newMockTable(t, SQLite)

	mock.ExpectExec("DELETE FROM schedules WHERE id = ?").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver gone")))

	_, err := table.Delete(context.Background(), Where("id = ?", int64(5)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete schedules rows affected")
	assert.EqualError(t, errors.Unwrap(err), "driver gone")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClockDrift(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT UNIX_TIMESTAMP()").
		WillReturnRows(sqlmock.NewRows([]string{"now"}).AddRow(int64(1003)))

	drift, err := ClockDrift(context.Background(), db, MySQL, func() time.Time { return time.Unix(1000, 0) })
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, drift)

	_, err = ClockDrift(context.Background(), db, Generic, nil)
	assert.ErrorIs(t, err, ErrNoServerClock)
	require.NoError(t, mock.ExpectationsWereMet())
}
