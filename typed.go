package sqlguard

import (
	"context"
	"fmt"
)

// OneAs runs One and maps the row with fn.
func OneAs[T any](ctx context.Context, db Querier, q Query, fn func(Row) (T, error), opts ...QueryOption) (T, error) {
	row, err := db.One(ctx, q, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(row)
}

// OneFirstAs runs OneFirst and asserts the value to T. A NULL or a value
// of another type fails with DataIntegrityError.
func OneFirstAs[T any](ctx context.Context, db Querier, q Query, opts ...QueryOption) (T, error) {
	v, err := db.OneFirst(ctx, q, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return convertAs[T](q, 0, v)
}

// AnyFirstAs runs AnyFirst and asserts every value to T.
func AnyFirstAs[T any](ctx context.Context, db Querier, q Query, opts ...QueryOption) ([]T, error) {
	values, err := db.AnyFirst(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	return convertAllAs[T](q, values)
}

// ManyFirstAs runs ManyFirst and asserts every value to T.
func ManyFirstAs[T any](ctx context.Context, db Querier, q Query, opts ...QueryOption) ([]T, error) {
	values, err := db.ManyFirst(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	return convertAllAs[T](q, values)
}

func convertAllAs[T any](q Query, values []any) ([]T, error) {
	out := make([]T, len(values))
	for i, v := range values {
		t, err := convertAs[T](q, i, v)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func convertAs[T any](q Query, row int, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		cq, _ := Compile(q)
		return zero, &DataIntegrityError{Query: cq, Reason: fmt.Sprintf("row %d: got %T, want %T", row, v, zero)}
	}
	return t, nil
}
