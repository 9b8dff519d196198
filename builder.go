package sqlguard

import (
	"fmt"
	"strings"
)

// Build constructs a query from literal text segments and the values
// interpolated between them, so len(segments) must be len(values)+1.
//
// Segments become literal SQL. Each value must be one of:
//   - nil or a scalar (string, bool, numbers, []byte, time.Time, driver.Valuer),
//     bound as a parameter
//   - a Query, embedded in place
//   - a token from a helper: Identifier, JoinList, ArrayBinding, Value or Raw
//
// Anything else (maps, structs, pointers, non-byte slices) is rejected with
// an InvalidInputError naming its position. Nothing is ever stringified.
func Build(segments []string, values ...any) (Query, error) {
	if len(segments) != len(values)+1 {
		return Query{}, &InvalidInputError{
			Position: -1,
			Reason:   fmt.Sprintf("got %d text segments for %d values, want %d", len(segments), len(values), len(values)+1),
		}
	}

	tokens := make([]Token, 0, len(segments)+len(values))
	for i, seg := range segments {
		if seg != "" {
			tokens = append(tokens, Raw{text: seg})
		}
		if i == len(values) {
			break
		}
		tok, err := classify(values[i])
		if err != nil {
			err.Position = i
			return Query{}, err
		}
		tokens = append(tokens, tok)
	}
	return Query{tokens: tokens}, nil
}

// MustBuild is like Build but panics on error. It is intended for queries
// assembled at package initialization.
func MustBuild(segments []string, values ...any) Query {
	q, err := Build(segments, values...)
	if err != nil {
		panic(err)
	}
	return q
}

// SQL builds a query from a template in which every %v marks an
// interpolation. %% is a literal percent sign; any other % sequence is
// copied as is.
//
//	q, err := sqlguard.SQL("SELECT * FROM %v WHERE id = %v", sqlguard.Ident("users"), id)
func SQL(template string, values ...any) (Query, error) {
	return Build(splitTemplate(template), values...)
}

// MustSQL is like SQL but panics on error.
func MustSQL(template string, values ...any) Query {
	q, err := SQL(template, values...)
	if err != nil {
		panic(err)
	}
	return q
}

func splitTemplate(template string) []string {
	var (
		segments []string
		b        strings.Builder
	)
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '%' || i+1 == len(template) {
			b.WriteByte(c)
			continue
		}
		switch template[i+1] {
		case 'v':
			segments = append(segments, b.String())
			b.Reset()
			i++
		case '%':
			b.WriteByte('%')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return append(segments, b.String())
}

// classify converts one interpolated value into a token. The returned error
// has no position; callers fill it in.
func classify(v any) (Token, *InvalidInputError) {
	switch t := v.(type) {
	case Query:
		return t, nil
	case *Query:
		if t == nil {
			return nil, &InvalidInputError{Type: "*sqlguard.Query", Reason: "nil query"}
		}
		return *t, nil
	case Raw:
		return t, nil
	case Value:
		s, ok := normalizeScalar(t.V)
		if !ok {
			return nil, &InvalidInputError{Type: fmt.Sprintf("%T", t.V), Reason: "value is not a bindable scalar"}
		}
		return Value{V: s}, nil
	case Identifier:
		if err := validateIdentifier(t); err != nil {
			return nil, err
		}
		return t, nil
	case JoinList:
		if err := validateJoin(t); err != nil {
			return nil, err
		}
		return t, nil
	case ArrayBinding:
		if err := validateArray(t); err != nil {
			return nil, err
		}
		return t, nil
	case Token:
		return nil, &InvalidInputError{Type: fmt.Sprintf("%T", v), Reason: "unsupported token"}
	}

	s, ok := normalizeScalar(v)
	if !ok {
		return nil, &InvalidInputError{Type: fmt.Sprintf("%T", v), Reason: "only scalars, queries and helper tokens may be interpolated"}
	}
	return Value{V: s}, nil
}

func validateIdentifier(id Identifier) *InvalidInputError {
	if len(id.Parts) == 0 {
		return &InvalidInputError{Type: "sqlguard.Identifier", Reason: "identifier has no parts"}
	}
	for i, p := range id.Parts {
		if p == "" {
			return &InvalidInputError{Type: "sqlguard.Identifier", Reason: fmt.Sprintf("identifier part %d is empty", i)}
		}
	}
	return nil
}

func validateJoin(j JoinList) *InvalidInputError {
	if j.err != nil {
		e := *j.err
		return &e
	}
	if j.Separator == nil {
		return &InvalidInputError{Type: "sqlguard.JoinList", Reason: "join has no separator"}
	}
	if _, err := classify(j.Separator); err != nil {
		err.Reason = "join separator: " + err.Reason
		return err
	}
	for i, item := range j.Items {
		if item == nil {
			return &InvalidInputError{Type: "sqlguard.JoinList", Reason: fmt.Sprintf("join item %d is nil", i)}
		}
		if _, err := classify(item); err != nil {
			err.Reason = fmt.Sprintf("join item %d: %s", i, err.Reason)
			return err
		}
	}
	return nil
}

func validateArray(a ArrayBinding) *InvalidInputError {
	if !validTypeName(a.ElementType) {
		return &InvalidInputError{Type: "sqlguard.ArrayBinding", Reason: fmt.Sprintf("invalid element type %q", a.ElementType)}
	}
	for i, v := range a.Values {
		if _, ok := normalizeScalar(v); !ok {
			return &InvalidInputError{Type: fmt.Sprintf("%T", v), Reason: fmt.Sprintf("array element %d is not a scalar", i)}
		}
	}
	return nil
}
