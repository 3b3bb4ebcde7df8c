package query

import (
	"strings"

	"github.com/artpar/querykit/core/schema"
)

// Eval evaluates a bound predicate against a record. And and or
// short-circuit left to right. An unbound comparison never matches.
func Eval(p Predicate, r schema.Record) bool {
	switch p := p.(type) {
	case nil:
		return true
	case Comparison:
		return evalComparison(p, r)
	case Combinator:
		switch p.Kind {
		case KindAnd:
			for _, child := range p.children {
				if !Eval(child, r) {
					return false
				}
			}
			return true
		case KindOr:
			for _, child := range p.children {
				if Eval(child, r) {
					return true
				}
			}
			return false
		case KindNot:
			return len(p.children) == 1 && !Eval(p.children[0], r)
		}
	}
	return false
}

func evalComparison(c Comparison, r schema.Record) bool {
	if !c.bound {
		return false
	}
	got, ok := r.Get(c.Field)
	if !ok {
		got = schema.Null(c.kind)
	}

	switch c.Op {
	case OpEq:
		return got.Equal(c.values[0])
	case OpNe:
		return !got.Equal(c.values[0])
	case OpIn:
		for _, want := range c.values {
			if !got.IsNull() && got.Equal(want) {
				return true
			}
		}
		return false
	}

	want := c.values[0]
	if got.IsNull() || want.IsNull() {
		return false
	}
	ops := schema.OpsFor(c.kind)

	switch c.Op {
	case OpContains:
		return strings.Contains(got.Str(), want.Str())
	case OpIContains:
		return strings.Contains(ops.Fold(got.Str()), ops.Fold(want.Str()))
	}

	cmp, ok := ops.Compare(got, want)
	if !ok {
		return false
	}
	switch c.Op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

// CompareRecords orders two records by the given orderings. Nulls sort
// first in ascending order. Booleans sort false before true. Ties fall
// back to record identity so the order is total.
func CompareRecords(order []Ordering, a, b schema.Record) int {
	for _, o := range order {
		av, _ := a.Get(o.Field)
		bv, _ := b.Get(o.Field)
		c := compareValues(av, bv)
		if o.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

func compareValues(a, b schema.Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	}
	if a.Kind() == schema.KindBoolean {
		switch {
		case a.Bool() == b.Bool():
			return 0
		case !a.Bool():
			return -1
		default:
			return 1
		}
	}
	if ops := schema.OpsFor(a.Kind()); ops != nil {
		if c, ok := ops.Compare(a, b); ok {
			return c
		}
	}
	return strings.Compare(a.String(), b.String())
}
