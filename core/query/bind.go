package query

import (
	"errors"
	"fmt"

	"github.com/artpar/querykit/core/schema"
)

var (
	// ErrUnsupportedOperator means the operator does not apply to the field's kind.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnknownField means the record type has no such field.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidValue means the comparison value cannot be coerced to the field's kind.
	ErrInvalidValue = errors.New("invalid value")
)

// BuildError describes a predicate or ordering that cannot be applied
// to a record type.
type BuildError struct {
	Type   string
	Field  string
	Op     Op
	Err    error
	Reason string
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s.%s", e.Type, e.Field)
	if e.Op != "" {
		msg += " " + string(e.Op)
	}
	msg += ": " + e.Err.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// Bind checks p against rt and coerces every comparison value to the
// field's kind. Comparison values are normalized like stored values,
// so Eq("email", "Ann@Example.COM") matches the folded address.
// The input predicate is not modified.
func Bind(rt *schema.RecordType, p Predicate) (Predicate, error) {
	switch p := p.(type) {
	case Comparison:
		return bindComparison(rt, p)
	case Combinator:
		if p.Kind == KindNot && len(p.children) != 1 {
			return nil, fmt.Errorf("not requires exactly one predicate, got %d", len(p.children))
		}
		if p.Kind != KindAnd && p.Kind != KindOr && p.Kind != KindNot {
			return nil, fmt.Errorf("unknown combinator %q", p.Kind)
		}
		children := make([]Predicate, len(p.children))
		for i, child := range p.children {
			bound, err := Bind(rt, child)
			if err != nil {
				return nil, err
			}
			children[i] = bound
		}
		return Combinator{Kind: p.Kind, children: children}, nil
	case nil:
		return nil, errors.New("nil predicate")
	default:
		return nil, fmt.Errorf("unknown predicate type %T", p)
	}
}

func bindComparison(rt *schema.RecordType, c Comparison) (Predicate, error) {
	fail := func(err error, reason string) error {
		return &BuildError{Type: rt.Name(), Field: c.Field, Op: c.Op, Err: err, Reason: reason}
	}

	field, ok := rt.Field(c.Field)
	if !ok {
		return nil, fail(ErrUnknownField, "")
	}
	if !c.Op.Valid() {
		return nil, fail(ErrUnsupportedOperator, "unknown operator")
	}

	ops := schema.OpsFor(field.Kind)
	if field.Kind == schema.KindSecret {
		return nil, fail(ErrUnsupportedOperator, "secret fields cannot be queried")
	}
	if c.Op.Substring() && !ops.Substring() {
		return nil, fail(ErrUnsupportedOperator, fmt.Sprintf("%s does not apply to %s fields", c.Op, field.Kind))
	}
	if c.Op.Ordered() {
		if _, ordered := ops.Compare(schema.Null(field.Kind), schema.Null(field.Kind)); !ordered {
			return nil, fail(ErrUnsupportedOperator, fmt.Sprintf("%s fields have no ordering", field.Kind))
		}
	}

	var values []schema.Value
	switch {
	case c.Op.Substring():
		s, ok := c.Value.(string)
		if !ok {
			return nil, fail(ErrInvalidValue, "substring must be a string")
		}
		values = []schema.Value{schema.StringValue(field.Kind, s)}

	case c.Op == OpIn:
		candidates, ok := asList(c.Value)
		if !ok {
			return nil, fail(ErrInvalidValue, "in requires a list of values")
		}
		values = make([]schema.Value, 0, len(candidates))
		for _, raw := range candidates {
			v, err := coerce(field, ops, raw)
			if err != nil {
				return nil, fail(ErrInvalidValue, err.Error())
			}
			values = append(values, v)
		}

	default:
		v, err := coerce(field, ops, c.Value)
		if err != nil {
			return nil, fail(ErrInvalidValue, err.Error())
		}
		values = []schema.Value{v}
	}

	c.kind = field.Kind
	c.values = values
	c.bound = true
	return c, nil
}

func coerce(field schema.FieldSpec, ops schema.KindOps, raw any) (schema.Value, error) {
	if raw == nil {
		return schema.Null(field.Kind), nil
	}
	v, err := ops.Coerce(raw)
	if err != nil {
		return schema.Value{}, err
	}
	return field.Normalize(v), nil
}

func asList(v any) ([]any, bool) {
	switch vals := v.(type) {
	case []any:
		return vals, true
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(vals))
		for i, n := range vals {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]any, len(vals))
		for i, n := range vals {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
