package sqlite

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/artpar/querykit/core/query"
	"github.com/artpar/querykit/core/schema"
)

// where translates a bound predicate into a squirrel condition.
//
// Every generated condition is two-valued: a comparison against a null
// column yields false rather than SQL NULL, so NOT behaves like the
// in-memory evaluator.
func where(p query.Predicate) (sq.Sqlizer, error) {
	switch p := p.(type) {
	case nil:
		return sq.Expr("1=1"), nil
	case query.Comparison:
		return comparison(p)
	case query.Combinator:
		children := make([]sq.Sqlizer, 0, len(p.Children()))
		for _, child := range p.Children() {
			c, err := where(child)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		switch p.Kind {
		case query.KindAnd:
			return sq.And(children), nil
		case query.KindOr:
			return sq.Or(children), nil
		case query.KindNot:
			if len(children) != 1 {
				return nil, fmt.Errorf("not requires exactly one predicate, got %d", len(children))
			}
			return not{children[0]}, nil
		}
		return nil, fmt.Errorf("unknown combinator %q", p.Kind)
	default:
		return nil, fmt.Errorf("unknown predicate type %T", p)
	}
}

func comparison(c query.Comparison) (sq.Sqlizer, error) {
	if !c.Bound() {
		return nil, fmt.Errorf("predicate %s is not bound to a record type", c)
	}

	col := quote(c.Field)
	expr := valueExpr(c.Kind(), col)
	present := sq.NotEq{col: nil}
	operand := c.Operand()

	switch c.Op {
	case query.OpEq:
		if operand.IsNull() {
			return sq.Eq{col: nil}, nil
		}
		return sq.And{present, sq.Eq{expr: arg(operand)}}, nil
	case query.OpNe:
		if operand.IsNull() {
			return present, nil
		}
		return sq.Or{sq.Eq{col: nil}, sq.NotEq{expr: arg(operand)}}, nil
	case query.OpIn:
		var args []any
		for _, v := range c.Operands() {
			if !v.IsNull() {
				args = append(args, arg(v))
			}
		}
		if len(args) == 0 {
			return sq.Expr("1=0"), nil
		}
		return sq.And{present, sq.Eq{expr: args}}, nil
	}

	if operand.IsNull() {
		return sq.Expr("1=0"), nil
	}

	switch c.Op {
	case query.OpLt:
		return sq.And{present, sq.Lt{expr: arg(operand)}}, nil
	case query.OpLte:
		return sq.And{present, sq.LtOrEq{expr: arg(operand)}}, nil
	case query.OpGt:
		return sq.And{present, sq.Gt{expr: arg(operand)}}, nil
	case query.OpGte:
		return sq.And{present, sq.GtOrEq{expr: arg(operand)}}, nil
	case query.OpContains:
		return sq.And{present, sq.Expr("instr("+col+", ?) > 0", operand.Str())}, nil
	case query.OpIContains:
		folded := schema.OpsFor(c.Kind()).Fold(operand.Str())
		return sq.And{present, sq.Expr("instr(querykit_fold(COALESCE("+col+", '')), ?) > 0", folded)}, nil
	}
	return nil, fmt.Errorf("%s: %w", c.Op, query.ErrUnsupportedOperator)
}

// valueExpr is the SQL expression compared against operands. Decimal
// text is compared exactly through the decimal collation.
func valueExpr(k schema.Kind, col string) string {
	if k == schema.KindDecimal {
		return col + " COLLATE " + decimalCollation
	}
	return col
}

// orderExpr renders one ORDER BY term.
func orderExpr(rt *schema.RecordType, o query.Ordering) string {
	expr := quote(o.Field)
	if f, ok := rt.Field(o.Field); ok {
		expr = valueExpr(f.Kind, expr)
	}
	if o.Direction == query.Desc {
		return expr + " DESC"
	}
	return expr + " ASC"
}

// arg converts an operand to a driver argument matching its column.
func arg(v schema.Value) any {
	if v.IsNull() {
		return nil
	}
	if v.Kind() == schema.KindDecimal {
		return v.Decimal().String()
	}
	return v.Interface()
}

// not negates a two-valued condition.
type not struct {
	inner sq.Sqlizer
}

func (n not) ToSql() (string, []any, error) {
	sql, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}
