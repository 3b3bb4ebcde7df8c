package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Constraint defines a validation rule for a field.
type Constraint struct {
	// Type is the constraint type (min, max, min_length, max_length, pattern, etc.)
	Type ConstraintType `yaml:"type" json:"type"`

	// Value is the constraint parameter (number, regex pattern, etc.)
	Value any `yaml:"value" json:"value"`

	// Message is the custom error message (optional).
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	re *regexp.Regexp
}

// ConstraintType identifies the type of constraint.
type ConstraintType string

const (
	// Numeric constraints
	ConstraintMin ConstraintType = "min" // Minimum numeric value
	ConstraintMax ConstraintType = "max" // Maximum numeric value

	// String constraints
	ConstraintMinLength ConstraintType = "min_length" // Minimum length in characters
	ConstraintMaxLength ConstraintType = "max_length" // Maximum length in characters
	ConstraintPattern   ConstraintType = "pattern"    // Regex pattern match
	ConstraintNotEmpty  ConstraintType = "not_empty"  // String must not be empty/whitespace

	ConstraintOneOf ConstraintType = "one_of" // Value must be one of list
)

// MaxLength is shorthand for a max_length constraint.
func MaxLength(n int) Constraint {
	return Constraint{Type: ConstraintMaxLength, Value: n}
}

// MinLength is shorthand for a min_length constraint.
func MinLength(n int) Constraint {
	return Constraint{Type: ConstraintMinLength, Value: n}
}

// Range is shorthand for a min and a max constraint.
func Range(min, max any) []Constraint {
	return []Constraint{
		{Type: ConstraintMin, Value: min},
		{Type: ConstraintMax, Value: max},
	}
}

// Pattern is shorthand for a regex constraint.
func Pattern(expr string) Constraint {
	return Constraint{Type: ConstraintPattern, Value: expr}
}

// compile checks the constraint parameter and prepares any regex.
func (c Constraint) compile() (Constraint, error) {
	switch c.Type {
	case ConstraintMin, ConstraintMax:
		if _, err := toDecimal(c.Value); err != nil {
			return c, fmt.Errorf("constraint %s: %w", c.Type, err)
		}
	case ConstraintMinLength, ConstraintMaxLength:
		if n, err := toInt(c.Value); err != nil || n < 0 {
			return c, fmt.Errorf("constraint %s: invalid length %v", c.Type, c.Value)
		}
	case ConstraintPattern:
		expr, ok := c.Value.(string)
		if !ok {
			return c, fmt.Errorf("constraint pattern: value must be a string")
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return c, fmt.Errorf("constraint pattern: %w", err)
		}
		c.re = re
	case ConstraintNotEmpty:
	case ConstraintOneOf:
		if _, ok := oneOfValues(c.Value); !ok {
			return c, fmt.Errorf("constraint one_of: value must be a list")
		}
	default:
		return c, fmt.Errorf("unknown constraint type %q", c.Type)
	}
	return c, nil
}

// Check validates a normalized value against the constraint.
// This is a PURE function. Constraints that do not apply to the
// value's kind pass.
func (c Constraint) Check(field string, v Value) *FieldError {
	if v.IsNull() {
		return nil
	}
	switch c.Type {
	case ConstraintMin:
		return c.checkBound(field, v, -1)
	case ConstraintMax:
		return c.checkBound(field, v, 1)
	case ConstraintMinLength:
		return c.checkLength(field, v, true)
	case ConstraintMaxLength:
		return c.checkLength(field, v, false)
	case ConstraintPattern:
		return c.checkPattern(field, v)
	case ConstraintNotEmpty:
		if isText(v.kind) && strings.TrimSpace(v.str) == "" {
			return c.fail(field, v.Interface(), "must not be empty")
		}
	case ConstraintOneOf:
		return c.checkOneOf(field, v)
	}
	return nil
}

func (c Constraint) checkBound(field string, v Value, dir int) *FieldError {
	bound, err := toDecimal(c.Value)
	if err != nil {
		return nil
	}

	var got decimal.Decimal
	switch v.kind {
	case KindInteger:
		got = decimal.NewFromInt(v.num)
	case KindDecimal:
		got = v.dec
	default:
		return nil
	}

	if dir < 0 && got.LessThan(bound) {
		return c.fail(field, v.Interface(), fmt.Sprintf("must be at least %s", bound))
	}
	if dir > 0 && got.GreaterThan(bound) {
		return c.fail(field, v.Interface(), fmt.Sprintf("must be at most %s", bound))
	}
	return nil
}

func (c Constraint) checkLength(field string, v Value, min bool) *FieldError {
	if !isText(v.kind) {
		return nil
	}
	limit, err := toInt(c.Value)
	if err != nil {
		return nil
	}

	n := utf8.RuneCountInString(v.str)
	if min && n < limit {
		return c.fail(field, n, fmt.Sprintf("must be at least %d characters", limit))
	}
	if !min && n > limit {
		return c.fail(field, n, fmt.Sprintf("must be at most %d characters", limit))
	}
	return nil
}

func (c Constraint) checkPattern(field string, v Value) *FieldError {
	if !isText(v.kind) {
		return nil
	}
	re := c.re
	if re == nil {
		expr, ok := c.Value.(string)
		if !ok {
			return nil
		}
		var err error
		if re, err = regexp.Compile(expr); err != nil {
			return nil
		}
	}
	if !re.MatchString(v.str) {
		return c.fail(field, v.Interface(), "does not match required pattern")
	}
	return nil
}

func (c Constraint) checkOneOf(field string, v Value) *FieldError {
	allowed, ok := oneOfValues(c.Value)
	if !ok {
		return nil
	}
	got := v.String()
	for _, a := range allowed {
		if a == got {
			return nil
		}
	}
	return c.fail(field, v.Interface(), fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

func (c Constraint) fail(field string, value any, msg string) *FieldError {
	if c.Message != "" {
		msg = c.Message
	}
	return &FieldError{Field: field, Code: Code(c.Type), Value: value, Message: msg}
}

func oneOfValues(v any) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []any:
		out := make([]string, len(vals))
		for i, a := range vals {
			out[i] = fmt.Sprintf("%v", a)
		}
		return out, true
	default:
		return nil, false
	}
}

// toDecimal converts a constraint parameter to a decimal.
func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case string:
		return decimal.NewFromString(n)
	case decimal.Decimal:
		return n, nil
	default:
		return decimal.Zero, fmt.Errorf("cannot convert %T to number", v)
	}
}

// toInt converts various types to int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}
