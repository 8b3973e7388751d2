package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"leasecron/internal/domain"
)

// ErrInvalidIdentifier is returned for table, prefix or column names that are
// not plain SQL identifiers.
var ErrInvalidIdentifier = errors.New("invalid sql identifier")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be spliced into SQL as a bare name.
func ValidIdentifier(s string) bool { return identRe.MatchString(s) }

// Cond is one SQL predicate with its bound arguments, written with ?
// placeholders. Conds passed together are joined with AND.
type Cond struct {
	SQL  string
	Args []any
}

// Where builds a Cond.
func Where(sql string, args ...any) Cond { return Cond{SQL: sql, Args: args} }

// In builds "column IN (?, ?, ...)". ids must not be empty.
func In(column string, ids []int64) Cond {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return Cond{
		SQL:  column + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")",
		Args: args,
	}
}

// Assign is one "column = expr" of an UPDATE or INSERT.
type Assign struct {
	Column string
	Expr   string
	Args   []any
}

// Set assigns a bound value.
func Set(column string, value any) Assign {
	return Assign{Column: column, Expr: "?", Args: []any{value}}
}

// SetExpr assigns a raw SQL expression.
func SetExpr(column, expr string, args ...any) Assign {
	return Assign{Column: column, Expr: expr, Args: args}
}

// Query describes a SELECT * against the table.
type Query struct {
	Where   []Cond
	OrderBy string
	Limit   int
}

// Table is one scheduler table. Every column except id carries the prefix.
type Table struct {
	db      DB
	dialect Dialect
	name    string
	prefix  string
}

// NewTable validates names and returns a Table.
func NewTable(db DB, dialect Dialect, name, prefix string) (*Table, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if !ValidIdentifier(name) {
		return nil, fmt.Errorf("table name %q: %w", name, ErrInvalidIdentifier)
	}
	if prefix != "" && !ValidIdentifier(prefix) {
		return nil, fmt.Errorf("column prefix %q: %w", prefix, ErrInvalidIdentifier)
	}
	if dialect == "" {
		dialect = Generic
	}
	return &Table{db: db, dialect: dialect, name: name, prefix: prefix}, nil
}

func (t *Table) Name() string     { return t.name }
func (t *Table) Prefix() string   { return t.prefix }
func (t *Table) Dialect() Dialect { return t.dialect }
func (t *Table) DB() DB           { return t.db }

// Col maps a column key to its physical name.
func (t *Table) Col(key string) string {
	if key == domain.ColID {
		return key
	}
	return t.prefix + key
}

// UpdateWhere runs a single conditional UPDATE and returns the number of rows
// it matched. Zero is a normal outcome.
func (t *Table) UpdateWhere(ctx context.Context, set []Assign, where ...Cond) (int64, error) {
	query, args := t.buildUpdate(set, where)
	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s rows affected: %w", t.name, err)
	}
	return n, nil
}

// MarkAndSelect writes marker alongside set on every row matching where, then
// reads back the rows that still carry marker and satisfy reselect. Rows
// another writer re-marked in between are not returned.
func (t *Table) MarkAndSelect(ctx context.Context, marker Assign, set []Assign, where []Cond, reselect ...Cond) (int64, []domain.Row, error) {
	assigns := append(append(make([]Assign, 0, len(set)+1), set...), marker)
	n, err := t.UpdateWhere(ctx, assigns, where...)
	if err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, nil
	}
	conds := append([]Cond{{SQL: marker.Column + " = " + marker.Expr, Args: marker.Args}}, reselect...)
	rows, err := t.Select(ctx, Query{Where: conds})
	if err != nil {
		return n, nil, err
	}
	return n, rows, nil
}

// Select runs SELECT * with the given predicates.
func (t *Table) Select(ctx context.Context, q Query) ([]domain.Row, error) {
	query, args := t.buildSelect(q)
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.name, err)
	}
	defer rows.Close()
	return t.scanRows(rows)
}

// Insert adds one row and returns its id.
func (t *Table) Insert(ctx context.Context, values []Assign) (int64, error) {
	cols := make([]string, len(values))
	exprs := make([]string, len(values))
	var args []any
	for i, v := range values {
		cols[i] = v.Column
		exprs[i] = v.Expr
		args = append(args, v.Args...)
	}
	query := "INSERT INTO " + t.name + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(exprs, ", ") + ")"

	if t.dialect == Postgres {
		var id int64
		if err := t.db.QueryRowContext(ctx, t.dialect.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert %s: %w", t.name, err)
		}
		return id, nil
	}
	res, err := t.db.ExecContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", t.name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s last insert id: %w", t.name, err)
	}
	return id, nil
}

// Delete removes matching rows.
func (t *Table) Delete(ctx context.Context, where ...Cond) (int64, error) {
	query := "DELETE FROM " + t.name
	w, args := joinConds(where)
	if w != "" {
		query += " WHERE " + w
	}
	res, err := t.db.ExecContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s rows affected: %w", t.name, err)
	}
	return n, nil
}

func (t *Table) buildUpdate(set []Assign, where []Cond) (string, []any) {
	parts := make([]string, len(set))
	var args []any
	for i, a := range set {
		parts[i] = a.Column + " = " + a.Expr
		args = append(args, a.Args...)
	}
	query := "UPDATE " + t.name + " SET " + strings.Join(parts, ", ")
	w, wargs := joinConds(where)
	if w != "" {
		query += " WHERE " + w
		args = append(args, wargs...)
	}
	return t.dialect.Rebind(query), args
}

func (t *Table) buildSelect(q Query) (string, []any) {
	query := "SELECT * FROM " + t.name
	w, args := joinConds(q.Where)
	if w != "" {
		query += " WHERE " + w
	}
	if q.OrderBy != "" {
		query += " ORDER BY " + q.OrderBy
	}
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}
	return t.dialect.Rebind(query), args
}

func joinConds(conds []Cond) (string, []any) {
	parts := make([]string, 0, len(conds))
	var args []any
	for _, c := range conds {
		if c.SQL == "" {
			continue
		}
		parts = append(parts, c.SQL)
		args = append(args, c.Args...)
	}
	return strings.Join(parts, " AND "), args
}

// IsNoRows reports whether err is sql.ErrNoRows.
func IsNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
