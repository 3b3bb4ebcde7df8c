// Package query provides composable predicates and immutable query specs.
//
// Predicates are built with the constructors in this package, bound
// against a record type with Bind, and evaluated in memory with Eval or
// translated by a store. Nothing in this package touches a store.
package query

import (
	"fmt"
	"strings"

	"github.com/artpar/querykit/core/schema"
)

// Op is a comparison operator.
type Op string

const (
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpLt        Op = "lt"
	OpLte       Op = "lte"
	OpGt        Op = "gt"
	OpGte       Op = "gte"
	OpContains  Op = "contains"
	OpIContains Op = "icontains"
	OpIn        Op = "in"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpContains, OpIContains, OpIn:
		return true
	}
	return false
}

// Ordered reports whether op needs an ordering on the field's kind.
func (op Op) Ordered() bool {
	switch op {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Substring reports whether op is a substring match.
func (op Op) Substring() bool {
	return op == OpContains || op == OpIContains
}

// CombinatorKind identifies a boolean combinator.
type CombinatorKind string

const (
	KindAnd CombinatorKind = "and"
	KindOr  CombinatorKind = "or"
	KindNot CombinatorKind = "not"
)

// Predicate is a node in a boolean expression tree: a Comparison or a
// Combinator. Predicates are immutable values.
type Predicate interface {
	fmt.Stringer
	isPredicate()
}

// Comparison tests one field against a value.
type Comparison struct {
	Field string
	Op    Op
	Value any

	// Set by Bind.
	kind   schema.Kind
	values []schema.Value
	bound  bool
}

func (Comparison) isPredicate() {}

// Bound reports whether the comparison was bound against a record type.
func (c Comparison) Bound() bool { return c.bound }

// Kind returns the bound field kind.
func (c Comparison) Kind() schema.Kind { return c.kind }

// Operand returns the bound comparison value. For OpIn use Operands.
func (c Comparison) Operand() schema.Value {
	if len(c.values) == 0 {
		return schema.Value{}
	}
	return c.values[0]
}

// Operands returns a copy of the bound values.
func (c Comparison) Operands() []schema.Value {
	return append([]schema.Value(nil), c.values...)
}

func (c Comparison) String() string {
	if c.bound {
		parts := make([]string, len(c.values))
		for i, v := range c.values {
			parts[i] = fmt.Sprintf("%q", v.String())
		}
		if c.Op == OpIn {
			return fmt.Sprintf("%s in [%s]", c.Field, strings.Join(parts, ", "))
		}
		return fmt.Sprintf("%s %s %s", c.Field, c.Op, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

// Combinator joins child predicates with and, or, or not.
type Combinator struct {
	Kind     CombinatorKind
	children []Predicate
}

func (Combinator) isPredicate() {}

// Children returns a copy of the child predicates.
func (c Combinator) Children() []Predicate {
	return append([]Predicate(nil), c.children...)
}

func (c Combinator) String() string {
	if c.Kind == KindNot && len(c.children) == 1 {
		return "not (" + c.children[0].String() + ")"
	}
	parts := make([]string, len(c.children))
	for i, child := range c.children {
		parts[i] = child.String()
	}
	if len(parts) == 0 {
		if c.Kind == KindOr {
			return "false"
		}
		return "true"
	}
	return "(" + strings.Join(parts, " "+string(c.Kind)+" ") + ")"
}

func compare(field string, op Op, value any) Comparison {
	return Comparison{Field: field, Op: op, Value: value}
}

// Eq matches records whose field equals value.
func Eq(field string, value any) Comparison { return compare(field, OpEq, value) }

// Ne matches records whose field differs from value. Null fields match.
func Ne(field string, value any) Comparison { return compare(field, OpNe, value) }

// Lt matches records whose field is less than value.
func Lt(field string, value any) Comparison { return compare(field, OpLt, value) }

// Lte matches records whose field is at most value.
func Lte(field string, value any) Comparison { return compare(field, OpLte, value) }

// Gt matches records whose field is greater than value.
func Gt(field string, value any) Comparison { return compare(field, OpGt, value) }

// Gte matches records whose field is at least value.
func Gte(field string, value any) Comparison { return compare(field, OpGte, value) }

// Contains is a case-sensitive substring match.
func Contains(field string, sub string) Comparison { return compare(field, OpContains, sub) }

// IContains is a case-insensitive substring match.
func IContains(field string, sub string) Comparison { return compare(field, OpIContains, sub) }

// In matches records whose field is one of values.
func In(field string, values ...any) Comparison {
	return compare(field, OpIn, append([]any(nil), values...))
}

// And is true when every child is true. And() is true.
func And(children ...Predicate) Combinator {
	return Combinator{Kind: KindAnd, children: append([]Predicate(nil), children...)}
}

// Or is true when any child is true. Or() is false.
func Or(children ...Predicate) Combinator {
	return Combinator{Kind: KindOr, children: append([]Predicate(nil), children...)}
}

// Not negates p.
func Not(p Predicate) Combinator {
	return Combinator{Kind: KindNot, children: []Predicate{p}}
}

// conjoin appends p to an and-chain without mutating either side.
func conjoin(where Predicate, p Predicate) Predicate {
	if where == nil {
		return p
	}
	if c, ok := where.(Combinator); ok && c.Kind == KindAnd {
		children := make([]Predicate, 0, len(c.children)+1)
		children = append(children, c.children...)
		return Combinator{Kind: KindAnd, children: append(children, p)}
	}
	return Combinator{Kind: KindAnd, children: []Predicate{where, p}}
}
