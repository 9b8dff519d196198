package sqlguard

import (
	"database/sql/driver"
	"reflect"
	"time"
)

// TokenKind identifies the variant of a Token.
type TokenKind int

const (
	RawKind TokenKind = iota + 1
	ValueKind
	IdentifierKind
	FragmentKind
	JoinKind
	ArrayKind
)

func (k TokenKind) String() string {
	switch k {
	case RawKind:
		return "raw"
	case ValueKind:
		return "value"
	case IdentifierKind:
		return "identifier"
	case FragmentKind:
		return "fragment"
	case JoinKind:
		return "join"
	case ArrayKind:
		return "array"
	default:
		return "unknown"
	}
}

// Token is one node of a query tree. The set of variants is closed: Raw,
// Value, Identifier, Query, JoinList and ArrayBinding.
type Token interface {
	Kind() TokenKind
	token()
}

// Raw is literal SQL text. It can only be produced by the builder from
// template segments, or explicitly with UnsafeRaw.
type Raw struct {
	text string
}

// UnsafeRaw wraps text as literal SQL. The text is emitted verbatim and is
// never escaped, so it must never contain caller-controlled input.
func UnsafeRaw(text string) Raw { return Raw{text: text} }

// Text returns the literal SQL text.
func (r Raw) Text() string { return r.text }

func (Raw) Kind() TokenKind { return RawKind }
func (Raw) token()          {}

// Value is a single bound parameter.
type Value struct {
	V any
}

func (Value) Kind() TokenKind { return ValueKind }
func (Value) token()          {}

// Identifier is a possibly schema-qualified name. Each part is quoted
// separately and joined with a dot.
type Identifier struct {
	Parts []string
}

func (Identifier) Kind() TokenKind { return IdentifierKind }
func (Identifier) token()          {}

// JoinList is a list of tokens with Separator compiled between each pair.
type JoinList struct {
	Items     []Token
	Separator Token

	err *InvalidInputError
}

func (JoinList) Kind() TokenKind { return JoinKind }
func (JoinList) token()          {}

// ArrayBinding binds a list of scalars as one array parameter.
type ArrayBinding struct {
	Values      []any
	ElementType string
}

func (ArrayBinding) Kind() TokenKind { return ArrayKind }
func (ArrayBinding) token()          {}

// Query is a built query tree. It is the only type the execution methods
// accept, and it may itself be interpolated into another query, where it is
// flattened in place.
//
// The zero Query is empty and compiles to empty text.
type Query struct {
	tokens []Token
}

func (Query) Kind() TokenKind { return FragmentKind }
func (Query) token()          {}

// Tokens returns a copy of the query's top-level tokens.
func (q Query) Tokens() []Token {
	return append([]Token(nil), q.tokens...)
}

// IsEmpty reports whether the query has no tokens.
func (q Query) IsEmpty() bool { return len(q.tokens) == 0 }

// String compiles q and returns its SQL text. It is meant for debugging and
// error messages; parameters are not shown.
func (q Query) String() string {
	cq, err := Compile(q)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return cq.SQL
}

var timeType = reflect.TypeOf(time.Time{})

// normalizeScalar reports whether v may be bound as a single parameter and
// returns it with named basic types converted to their underlying type, so
// drivers see plain Go values.
func normalizeScalar(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		[]byte, time.Time:
		return x, true
	case driver.Valuer:
		rv := reflect.ValueOf(x)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, true
		}
		return x, true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.Int:
		return int(rv.Int()), true
	case reflect.Int8:
		return int8(rv.Int()), true
	case reflect.Int16:
		return int16(rv.Int()), true
	case reflect.Int32:
		return int32(rv.Int()), true
	case reflect.Int64:
		return rv.Int(), true
	case reflect.Uint:
		return uint(rv.Uint()), true
	case reflect.Uint8:
		return uint8(rv.Uint()), true
	case reflect.Uint16:
		return uint16(rv.Uint()), true
	case reflect.Uint32:
		return uint32(rv.Uint()), true
	case reflect.Uint64:
		return rv.Uint(), true
	case reflect.Float32:
		return float32(rv.Float()), true
	case reflect.Float64:
		return rv.Float(), true
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), true
		}
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return rv.Convert(timeType).Interface(), true
		}
	}
	return nil, false
}
