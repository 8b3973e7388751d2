package store

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"leasecron/internal/domain"
)

func (t *Table) scanRows(rows *sql.Rows) ([]domain.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", t.name, err)
	}

	var out []domain.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		row, err := t.decodeRow(cols, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *Table) decodeRow(cols []string, vals []any) (domain.Row, error) {
	var r domain.Row
	for i, name := range cols {
		v := vals[i]
		var err error
		switch t.keyOf(name) {
		case domain.ColID:
			r.ID, err = asInt64(v)
		case domain.ColCron:
			if s := asString(v); s != nil {
				r.Cron = *s
			}
		case domain.ColData:
			r.Data = asString(v)
		case domain.ColLeaseSeconds:
			r.LeaseSeconds, err = asInt64(v)
		case domain.ColToken:
			r.Token = asString(v)
		case domain.ColMaxStaleSeconds:
			r.MaxStaleSeconds, err = asInt64(v)
		case domain.ColLeaseExpiresAt:
			r.LeaseExpiresAt, err = asInt64(v)
		case domain.ColNextRunAt:
			r.NextRunAt, err = asInt64(v)
		case domain.ColRunTimeOffsetSeconds:
			r.RunTimeOffsetSeconds, err = asInt64(v)
		case domain.ColTimeZone:
			r.TimeZone = asString(v)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			r.Extra[name] = v
		}
		if err != nil {
			return domain.Row{}, fmt.Errorf("decode %s.%s: %w", t.name, name, err)
		}
	}
	return r, nil
}

// keyOf maps a physical column name back to its key, or "" for columns the
// scheduler does not own.
func (t *Table) keyOf(name string) string {
	lower := strings.ToLower(name)
	if lower == domain.ColID {
		return domain.ColID
	}
	for _, key := range domain.Keys {
		if strings.ToLower(t.Col(key)) == lower {
			return key
		}
	}
	return ""
}

// asInt64 normalizes the integer representations drivers hand back.
func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float64:
		return int64(math.Floor(x)), nil
	case []byte:
		return parseInt(string(x))
	case string:
		return parseInt(x)
	case time.Time:
		return x.Unix(), nil
	default:
		return 0, fmt.Errorf("unsupported integer type %T", v)
	}
}

func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Floor(f)), nil
}

func asString(v any) *string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return &x
	case []byte:
		s := string(x)
		return &s
	default:
		s := fmt.Sprint(x)
		return &s
	}
}
