package sqlguard

import "fmt"

// Shape checks. Each takes the rows that survived the AfterQuery hooks and
// the per-call row transform, and enforces one method's cardinality
// contract.

func assertMany(q CompiledQuery, rows []Row) error {
	if len(rows) == 0 {
		return &NotFoundError{Query: q}
	}
	return nil
}

func assertOne(q CompiledQuery, rows []Row) (Row, error) {
	switch len(rows) {
	case 0:
		return Row{}, &NotFoundError{Query: q}
	case 1:
		return rows[0], nil
	default:
		return Row{}, &DataIntegrityError{Query: q, Reason: fmt.Sprintf("expected one row, got %d", len(rows))}
	}
}

func assertMaybeOne(q CompiledQuery, rows []Row) (*Row, error) {
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	default:
		return nil, &DataIntegrityError{Query: q, Reason: fmt.Sprintf("expected at most one row, got %d", len(rows))}
	}
}

// firstColumn returns the single column of every row. Every row is
// checked, not just the first.
func firstColumn(q CompiledQuery, rows []Row) ([]any, error) {
	values := make([]any, len(rows))
	for i, r := range rows {
		if r.Len() != 1 {
			return nil, &DataIntegrityError{Query: q, Reason: fmt.Sprintf("expected one column, row %d has %d", i, r.Len())}
		}
		values[i] = r.values[0]
	}
	return values, nil
}
