package query

import (
	"fmt"
	"strings"

	"github.com/artpar/querykit/core/schema"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts "asc" or "desc" in any case. Empty means Asc.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return "", fmt.Errorf("unknown sort direction %q", s)
	}
}

// Ordering sorts by one field.
type Ordering struct {
	Field     string
	Direction Direction
}

// ParseOrdering reads "field" or "-field" (descending).
func ParseOrdering(s string) Ordering {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		return Ordering{Field: rest, Direction: Desc}
	}
	return Ordering{Field: strings.TrimPrefix(s, "+"), Direction: Asc}
}

func (o Ordering) String() string {
	if o.Direction == Desc {
		return "-" + o.Field
	}
	return o.Field
}

// Spec is an immutable description of a query: a record type, an
// optional bound predicate, orderings and an optional limit. Every
// With method returns a new Spec and leaves the receiver unchanged.
type Spec struct {
	rt       *schema.RecordType
	where    Predicate
	order    []Ordering
	limit    int
	hasLimit bool
}

// NewSpec returns a spec that selects every record of rt.
func NewSpec(rt *schema.RecordType) Spec {
	return Spec{rt: rt}
}

// Type returns the record type.
func (s Spec) Type() *schema.RecordType { return s.rt }

// Where returns the predicate, or nil when the query selects everything.
func (s Spec) Where() Predicate { return s.where }

// Order returns a copy of the orderings.
func (s Spec) Order() []Ordering { return append([]Ordering(nil), s.order...) }

// Limit returns the limit and whether one is set.
func (s Spec) Limit() (int, bool) { return s.limit, s.hasLimit }

// WithWhere and-combines a bound predicate with the current one.
func (s Spec) WithWhere(p Predicate) Spec {
	s.where = conjoin(s.where, p)
	return s
}

// WithOrder appends an ordering. The order slice is copied so specs
// derived from a common base never share it.
func (s Spec) WithOrder(o Ordering) Spec {
	order := make([]Ordering, 0, len(s.order)+1)
	order = append(order, s.order...)
	s.order = append(order, o)
	return s
}

// WithLimit sets the limit.
func (s Spec) WithLimit(n int) Spec {
	s.limit = n
	s.hasLimit = true
	return s
}

// Matches reports whether r satisfies the predicate.
func (s Spec) Matches(r schema.Record) bool {
	return Eval(s.where, r)
}

func (s Spec) String() string {
	var b strings.Builder
	name := ""
	if s.rt != nil {
		name = s.rt.Name()
	}
	b.WriteString(name)
	if s.where != nil {
		b.WriteString(" where ")
		b.WriteString(s.where.String())
	}
	if len(s.order) > 0 {
		parts := make([]string, len(s.order))
		for i, o := range s.order {
			parts[i] = o.String()
		}
		b.WriteString(" order by ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if s.hasLimit {
		fmt.Fprintf(&b, " limit %d", s.limit)
	}
	return b.String()
}

// BindOrdering checks that o can sort records of rt.
func BindOrdering(rt *schema.RecordType, o Ordering) (Ordering, error) {
	field, ok := rt.Field(o.Field)
	if !ok {
		return o, &BuildError{Type: rt.Name(), Field: o.Field, Err: ErrUnknownField}
	}
	if field.Kind == schema.KindSecret {
		return o, &BuildError{Type: rt.Name(), Field: o.Field, Err: ErrUnsupportedOperator, Reason: "secret fields cannot be sorted"}
	}
	dir, err := ParseDirection(string(o.Direction))
	if err != nil {
		return o, &BuildError{Type: rt.Name(), Field: o.Field, Err: ErrInvalidValue, Reason: err.Error()}
	}
	o.Direction = dir
	return o, nil
}
