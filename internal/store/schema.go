package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leasecron/internal/domain"
)

// ErrSchema is returned when an existing table cannot be brought up to date.
var ErrSchema = errors.New("schema")

type columnSpec struct {
	key     string
	kind    string // str, text, int
	notNull bool
	def     string
	indexed bool
}

var scheduleColumns = []columnSpec{
	{key: domain.ColCron, kind: "str", notNull: true},
	{key: domain.ColData, kind: "text"},
	{key: domain.ColLeaseSeconds, kind: "int", notNull: true},
	{key: domain.ColToken, kind: "str", indexed: true},
	{key: domain.ColMaxStaleSeconds, kind: "int", notNull: true},
	{key: domain.ColLeaseExpiresAt, kind: "int", notNull: true, def: "0", indexed: true},
	{key: domain.ColNextRunAt, kind: "int", notNull: true, indexed: true},
	{key: domain.ColRunTimeOffsetSeconds, kind: "int", def: "0"},
	{key: domain.ColTimeZone, kind: "str"},
}

type typeSet struct {
	pk, str, text, integer string
}

func typesFor(d Dialect) typeSet {
	switch d {
	case SQLite:
		return typeSet{pk: "INTEGER PRIMARY KEY AUTOINCREMENT", str: "VARCHAR(255)", text: "TEXT", integer: "INTEGER"}
	case Postgres:
		return typeSet{pk: "BIGSERIAL PRIMARY KEY", str: "VARCHAR(255)", text: "TEXT", integer: "BIGINT"}
	case MySQL:
		return typeSet{pk: "BIGINT AUTO_INCREMENT PRIMARY KEY", str: "VARCHAR(255)", text: "TEXT", integer: "BIGINT"}
	default:
		return typeSet{pk: "INTEGER PRIMARY KEY", str: "VARCHAR(255)", text: "TEXT", integer: "BIGINT"}
	}
}

func (t *Table) columnDDL(c columnSpec, forAlter bool) string {
	ts := typesFor(t.dialect)
	typ := ts.integer
	switch c.kind {
	case "str":
		typ = ts.str
	case "text":
		typ = ts.text
	}
	def := c.def
	if forAlter && c.notNull && def == "" {
		// existing rows need a value for the new NOT NULL column
		if c.kind == "int" {
			def = "0"
		} else {
			def = "''"
		}
	}
	ddl := t.Col(c.key) + " " + typ
	if c.notNull {
		ddl += " NOT NULL"
	}
	if def != "" {
		ddl += " DEFAULT " + def
	}
	return ddl
}

func (t *Table) indexName(key string) string {
	return t.name + "_" + t.Col(key) + "_idx"
}

// EnsureSchema creates the table when absent, adds any scheduler columns a
// pre-existing table lacks, and creates the indexes. Existing data is kept.
// Safe to call repeatedly.
func (t *Table) EnsureSchema(ctx context.Context) error {
	ts := typesFor(t.dialect)
	defs := []string{"id " + ts.pk}
	for _, c := range scheduleColumns {
		defs = append(defs, t.columnDDL(c, false))
	}
	if t.dialect == MySQL {
		for _, c := range scheduleColumns {
			if c.indexed {
				defs = append(defs, "INDEX "+t.indexName(c.key)+" ("+t.Col(c.key)+")")
			}
		}
	}
	create := "CREATE TABLE IF NOT EXISTS " + t.name + " (\n  " + strings.Join(defs, ",\n  ") + "\n)"
	if _, err := t.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", t.name, err)
	}

	existing, err := t.Columns(ctx)
	if err != nil {
		return err
	}
	if !existing[domain.ColID] {
		return fmt.Errorf("%w: table %s has no id column", ErrSchema, t.name)
	}
	for _, c := range scheduleColumns {
		if existing[strings.ToLower(t.Col(c.key))] {
			continue
		}
		alter := "ALTER TABLE " + t.name + " ADD COLUMN " + t.columnDDL(c, true)
		if t.dialect == MySQL && c.indexed {
			alter += ", ADD INDEX " + t.indexName(c.key) + " (" + t.Col(c.key) + ")"
		}
		if _, err := t.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("add column %s.%s: %w", t.name, t.Col(c.key), err)
		}
	}

	if t.dialect == MySQL {
		return nil
	}
	for _, c := range scheduleColumns {
		if !c.indexed {
			continue
		}
		idx := "CREATE INDEX IF NOT EXISTS " + t.indexName(c.key) + " ON " + t.name + " (" + t.Col(c.key) + ")"
		if _, err := t.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index %s: %w", t.indexName(c.key), err)
		}
	}
	return nil
}

// Columns returns the table's physical column names, lower-cased.
func (t *Table) Columns(ctx context.Context) (map[string]bool, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT * FROM "+t.name+" WHERE 1 = 0")
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", t.name, err)
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("inspect %s columns: %w", t.name, err)
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = true
	}
	return out, rows.Err()
}
