package store

import (
	"strconv"
	"strings"
	"time"
)

// Dialect identifies the SQL family behind a connection.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	Generic  Dialect = "generic"
)

// DialectFor maps a database/sql driver name to its dialect. Unknown drivers
// map to Generic.
func DialectFor(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite
	case "mysql":
		return MySQL
	case "postgres", "postgresql", "pgx", "pgx/v5":
		return Postgres
	default:
		return Generic
	}
}

// Rebind rewrites ? placeholders into the dialect's positional form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Epoch renders the SQL expression used for "now, in epoch seconds" inside a
// statement. Callers render it once per statement.
type Epoch interface {
	SQL() string
}

type serverEpoch string

func (e serverEpoch) SQL() string { return string(e) }

// ClientEpoch renders the client clock as an integer literal.
type ClientEpoch struct {
	Now func() time.Time
}

func (c ClientEpoch) SQL() string {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	return strconv.FormatInt(now().Unix(), 10)
}

// ServerEpoch returns the server-side epoch expression for d. Generic has no
// known expression and falls back to the client clock.
func ServerEpoch(d Dialect, now func() time.Time) Epoch {
	if expr := serverEpochSQL(d); expr != "" {
		return serverEpoch(expr)
	}
	return ClientEpoch{Now: now}
}

func serverEpochSQL(d Dialect) string {
	switch d {
	case SQLite:
		return "CAST(strftime('%s','now') AS INTEGER)"
	case MySQL:
		return "UNIX_TIMESTAMP()"
	case Postgres:
		return "CAST(FLOOR(EXTRACT(EPOCH FROM NOW())) AS BIGINT)"
	default:
		return ""
	}
}
