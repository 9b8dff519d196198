package sqlguard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pthm/sqlguard/pkg/backend"
)

// CompiledQuery is SQL text with $n placeholders and the parameters they
// refer to, in order. Treat it as immutable: interceptors that rewrite a
// query return a new value.
type CompiledQuery struct {
	SQL    string
	Params []any
}

// Compile flattens q into SQL text and a parameter list.
//
// Tokens are visited depth first, left to right. Every Value and
// ArrayBinding emits the next placeholder, so placeholders run from $1
// without gaps however deeply fragments are nested. Compiling the same
// query twice yields identical output.
func Compile(q Query) (CompiledQuery, error) {
	var c compiler
	if err := c.fragment(q); err != nil {
		return CompiledQuery{}, err
	}
	return CompiledQuery{SQL: c.buf.String(), Params: c.params}, nil
}

// Compile is shorthand for Compile(q).
func (q Query) Compile() (CompiledQuery, error) { return Compile(q) }

type compiler struct {
	buf    strings.Builder
	params []any
}

func (c *compiler) bind(v any) {
	c.params = append(c.params, v)
	c.buf.WriteByte('$')
	c.buf.WriteString(strconv.Itoa(len(c.params)))
}

func (c *compiler) fragment(q Query) error {
	for _, t := range q.tokens {
		if err := c.token(t); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) token(t Token) error {
	switch t := t.(type) {
	case nil:
		return &MalformedTokenError{Reason: "nil token"}
	case Raw:
		c.buf.WriteString(t.text)
	case Value:
		v, ok := normalizeScalar(t.V)
		if !ok {
			return &MalformedTokenError{Token: t, Reason: fmt.Sprintf("value of type %T is not a scalar", t.V)}
		}
		c.bind(v)
	case Identifier:
		if validateIdentifier(t) != nil {
			return &MalformedTokenError{Token: t, Reason: "identifier has an empty part"}
		}
		for i, p := range t.Parts {
			if i > 0 {
				c.buf.WriteByte('.')
			}
			c.buf.WriteString(backend.QuoteIdentifier(p))
		}
	case Query:
		return c.fragment(t)
	case JoinList:
		if t.err != nil || t.Separator == nil {
			return &MalformedTokenError{Token: t, Reason: "invalid join"}
		}
		for i, item := range t.Items {
			if i > 0 {
				if err := c.token(t.Separator); err != nil {
					return err
				}
			}
			if err := c.token(item); err != nil {
				return err
			}
		}
	case ArrayBinding:
		if validateArray(t) != nil {
			return &MalformedTokenError{Token: t, Reason: "invalid array binding"}
		}
		values := make([]any, len(t.Values))
		for i, v := range t.Values {
			values[i], _ = normalizeScalar(v)
		}
		c.bind(backend.Array{Values: values, ElementType: t.ElementType})
		c.buf.WriteString("::")
		c.buf.WriteString(t.ElementType)
		c.buf.WriteString("[]")
	default:
		return &MalformedTokenError{Token: t, Reason: "unknown token variant"}
	}
	return nil
}
