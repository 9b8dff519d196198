package sqlguard

import (
	"fmt"

	"github.com/pthm/sqlguard/pkg/backend"
)

// Row is one result record: column names and values in select-list order.
// Duplicate column names are kept; Get returns the first match.
type Row struct {
	columns []string
	values  []any
}

// NewRow returns a row with the given columns and values. It panics if the
// lengths differ.
func NewRow(columns []string, values []any) Row {
	if len(columns) != len(values) {
		panic(fmt.Sprintf("sqlguard: NewRow: %d columns for %d values", len(columns), len(values)))
	}
	return Row{columns: columns, values: values}
}

// Columns returns the column names. The slice is shared; do not modify it.
func (r Row) Columns() []string { return r.columns }

// Values returns the column values. The slice is shared; do not modify it.
func (r Row) Values() []any { return r.values }

// Len returns the number of columns.
func (r Row) Len() int { return len(r.values) }

// Value returns the value of column i.
func (r Row) Value(i int) any { return r.values[i] }

// Get returns the value of the first column named name.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a map. Later duplicate columns are dropped.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		if _, ok := m[c]; !ok {
			m[c] = r.values[i]
		}
	}
	return m
}

// Result is a fully buffered statement result.
type Result struct {
	// Command is the statement verb ("SELECT", "UPDATE", ...), when the
	// driver reports it.
	Command  string
	RowCount int64
	Fields   []backend.Field
	Rows     []Row
}

// NewResult returns a SELECT result for rows, taking the field list from
// the first row. Interceptors use it to build short-circuit results.
func NewResult(rows []Row) *Result {
	res := &Result{Command: "SELECT", RowCount: int64(len(rows)), Rows: rows}
	if len(rows) > 0 {
		res.Fields = make([]backend.Field, len(rows[0].columns))
		for i, c := range rows[0].columns {
			res.Fields[i] = backend.Field{Name: c}
		}
	}
	return res
}

// cloneRows copies rows so that neither copy sees writes to the other's
// columns or values.
func cloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{
			columns: append([]string(nil), r.columns...),
			values:  append([]any(nil), r.values...),
		}
	}
	return out
}

// decodeResult converts a driver result into rows, applying type parsers
// to the columns whose type they are registered for.
func decodeResult(raw *backend.Result, parsers map[string]TypeParser) (*Result, error) {
	columns := make([]string, len(raw.Fields))
	colParsers := make([]TypeParser, len(raw.Fields))
	for i, f := range raw.Fields {
		columns[i] = f.Name
		if p, ok := parsers[f.TypeName]; ok && f.TypeName != "" {
			colParsers[i] = p
		}
	}

	res := &Result{
		Command:  raw.Command,
		RowCount: raw.RowCount,
		Fields:   raw.Fields,
		Rows:     make([]Row, 0, len(raw.Rows)),
	}
	for n, rawValues := range raw.Rows {
		if len(rawValues) != len(columns) {
			return nil, fmt.Errorf("sqlguard: row %d has %d values for %d fields", n, len(rawValues), len(columns))
		}
		// raw belongs to the backend, which may hand it out again.
		values := append([]any(nil), rawValues...)
		for i, p := range colParsers {
			if p == nil || values[i] == nil {
				continue
			}
			v, err := p(values[i])
			if err != nil {
				return nil, fmt.Errorf("sqlguard: parse %s column %q: %w", raw.Fields[i].TypeName, columns[i], err)
			}
			values[i] = v
		}
		res.Rows = append(res.Rows, Row{columns: columns, values: values})
	}
	return res, nil
}
