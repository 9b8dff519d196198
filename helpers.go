package sqlguard

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// typeNamePattern accepts PostgreSQL type names such as int4, text,
// "double precision", varchar(255), numeric(10, 2) and public.mood.
var typeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?( [A-Za-z_][A-Za-z0-9_]*)*(\(\d+(, ?\d+)?\))?$`)

func validTypeName(name string) bool {
	return typeNamePattern.MatchString(name)
}

// Ident returns an identifier token. Each part is quoted on its own:
//
//	Ident("public", "users") // "public"."users"
func Ident(parts ...string) Identifier {
	return Identifier{Parts: append([]string(nil), parts...)}
}

// Join returns a token that compiles items with separator between each
// pair. Items follow the same rules as Build values. A disallowed item is
// reported by the Build call the join is interpolated into.
//
//	sqlguard.Join([]any{1, 2, 3}, sqlguard.UnsafeRaw(", ")) // $1, $2, $3
func Join(items []any, separator Token) JoinList {
	j := JoinList{Items: make([]Token, 0, len(items)), Separator: separator}
	for i, item := range items {
		tok, err := classify(item)
		if err != nil {
			err.Reason = fmt.Sprintf("join item %d: %s", i, err.Reason)
			j.err = err
			j.Items = nil
			return j
		}
		j.Items = append(j.Items, tok)
	}
	return j
}

// Array returns a token that binds values as a single array parameter of
// elementType, for patterns such as "id = ANY(%v)". It compiles to
// $k::elementType[], so the server never has to infer the element type.
func Array(values []any, elementType string) ArrayBinding {
	return ArrayBinding{Values: append([]any(nil), values...), ElementType: elementType}
}

// ArrayOf is Array for a typed slice.
func ArrayOf[T any](values []T, elementType string) ArrayBinding {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return ArrayBinding{Values: vs, ElementType: elementType}
}

// JSON encodes v and returns it as a text value, ready for a ::json or
// ::jsonb cast.
func JSON(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, &InvalidInputError{Position: -1, Type: fmt.Sprintf("%T", v), Reason: "json: " + err.Error()}
	}
	return Value{V: string(b)}, nil
}

// Binary returns b as a bytea value.
func Binary(b []byte) Value { return Value{V: b} }

// Timestamp returns t as a timestamp value.
func Timestamp(t time.Time) Value { return Value{V: t} }

// Unnest returns "unnest($1::t1[], $2::t2[], ...)" binding one array per
// column, for inserting many rows in one statement:
//
//	rows, _ := sqlguard.Unnest([][]any{{1, "a"}, {2, "b"}}, []string{"int4", "text"})
//	sqlguard.SQL("INSERT INTO t (id, name) SELECT * FROM %v", rows)
func Unnest(tuples [][]any, columnTypes []string) (Query, error) {
	if len(columnTypes) == 0 {
		return Query{}, &InvalidInputError{Position: -1, Reason: "unnest needs at least one column type"}
	}
	for _, t := range columnTypes {
		if !validTypeName(t) {
			return Query{}, &InvalidInputError{Position: -1, Reason: fmt.Sprintf("invalid column type %q", t)}
		}
	}

	columns := make([][]any, len(columnTypes))
	for i, tuple := range tuples {
		if len(tuple) != len(columnTypes) {
			return Query{}, &InvalidInputError{
				Position: -1,
				Reason:   fmt.Sprintf("tuple %d has %d values, want %d", i, len(tuple), len(columnTypes)),
			}
		}
		for c, v := range tuple {
			columns[c] = append(columns[c], v)
		}
	}

	segments := make([]string, len(columnTypes)+1)
	values := make([]any, len(columnTypes))
	segments[0] = "unnest("
	for c, t := range columnTypes {
		values[c] = Array(columns[c], strings.ToLower(t))
		segments[c+1] = ", "
	}
	segments[len(columnTypes)] = ")"
	return Build(segments, values...)
}
