package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Kind is the type of a schema field.
type Kind string

const (
	KindString    Kind = "string"
	KindInteger   Kind = "integer"
	KindDecimal   Kind = "decimal"
	KindEmail     Kind = "email"
	KindBoolean   Kind = "boolean"
	KindReference Kind = "reference" // identity of a record of another type
	KindSecret    Kind = "secret"    // hashed before storage, never serialized
)

// kindAliases maps the short spellings accepted in YAML definitions.
var kindAliases = map[string]Kind{
	"str":      KindString,
	"text":     KindString,
	"int":      KindInteger,
	"float":    KindDecimal,
	"number":   KindDecimal,
	"bool":     KindBoolean,
	"ref":      KindReference,
	"password": KindSecret,
}

// ParseKind resolves a kind name or alias.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kindOps[k]; ok {
		return k, nil
	}
	if alias, ok := kindAliases[string(k)]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// KindOps is the capability set each kind implements.
type KindOps interface {
	// Coerce type-checks a raw input value and converts it.
	Coerce(raw any) (Value, error)

	// Normalize applies the kind's own canonicalization.
	// It runs before any declared normalizer.
	Normalize(v Value) Value

	// Compare orders two non-null values. ok is false when the kind
	// has no ordering.
	Compare(a, b Value) (cmp int, ok bool)

	// Substring reports whether contains/icontains apply.
	Substring() bool

	// Fold case-folds a string for case-insensitive substring matching.
	// It never trims: whitespace in a search term is significant.
	Fold(s string) string
}

var kindOps = map[Kind]KindOps{
	KindString:    textOps{kind: KindString},
	KindEmail:     emailOps{textOps{kind: KindEmail}},
	KindReference: textOps{kind: KindReference},
	KindSecret:    secretOps{textOps{kind: KindSecret}},
	KindInteger:   integerOps{},
	KindDecimal:   decimalOps{},
	KindBoolean:   booleanOps{},
}

// OpsFor returns the capability set for a kind, or nil if the kind is unknown.
func OpsFor(k Kind) KindOps {
	return kindOps[k]
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindOps[k]
	return ok
}

// textOps covers string and reference kinds.
type textOps struct {
	kind Kind
}

func (o textOps) Coerce(raw any) (Value, error) {
	s, ok := raw.(string)
	if !ok {
		return Value{}, fmt.Errorf("must be a string")
	}
	if o.kind == KindReference && strings.TrimSpace(s) == "" {
		return Value{}, fmt.Errorf("reference cannot be empty")
	}
	return StringValue(o.kind, s), nil
}

func (o textOps) Normalize(v Value) Value { return v }

func (o textOps) Compare(a, b Value) (int, bool) {
	return strings.Compare(a.str, b.str), true
}

func (o textOps) Substring() bool { return true }

func (o textOps) Fold(s string) string { return strings.ToLower(s) }

// emailOps validates address syntax and folds the whole address.
type emailOps struct {
	textOps
}

// validate is safe for concurrent use and caches tag parsing.
var validate = validator.New()

func (o emailOps) Coerce(raw any) (Value, error) {
	s, ok := raw.(string)
	if !ok {
		return Value{}, fmt.Errorf("must be a string")
	}
	if err := validate.Var(strings.TrimSpace(s), "required,email"); err != nil {
		return Value{}, fmt.Errorf("invalid email address")
	}
	return StringValue(KindEmail, s), nil
}

func (o emailOps) Normalize(v Value) Value {
	if v.IsNull() {
		return v
	}
	return StringValue(KindEmail, FoldEmail(v.str))
}

// secretOps holds plaintext until the manager hashes it.
type secretOps struct {
	textOps
}

func (o secretOps) Compare(a, b Value) (int, bool) { return 0, false }

func (o secretOps) Substring() bool { return false }

type integerOps struct{}

func (integerOps) Coerce(raw any) (Value, error) {
	switch n := raw.(type) {
	case int:
		return IntValue(int64(n)), nil
	case int8:
		return IntValue(int64(n)), nil
	case int16:
		return IntValue(int64(n)), nil
	case int32:
		return IntValue(int64(n)), nil
	case int64:
		return IntValue(n), nil
	case uint8:
		return IntValue(int64(n)), nil
	case uint16:
		return IntValue(int64(n)), nil
	case uint32:
		return IntValue(int64(n)), nil
	case float32:
		return integralFloat(float64(n))
	case float64:
		return integralFloat(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("must be an integer")
		}
		return IntValue(i), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("must be an integer")
		}
		return IntValue(i), nil
	default:
		return Value{}, fmt.Errorf("must be an integer")
	}
}

func integralFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return Value{}, fmt.Errorf("must be an integer")
	}
	return IntValue(int64(f)), nil
}

func (integerOps) Normalize(v Value) Value { return v }

func (integerOps) Compare(a, b Value) (int, bool) {
	switch {
	case a.num < b.num:
		return -1, true
	case a.num > b.num:
		return 1, true
	default:
		return 0, true
	}
}

func (integerOps) Substring() bool { return false }

func (integerOps) Fold(s string) string { return s }

type decimalOps struct{}

func (decimalOps) Coerce(raw any) (Value, error) {
	switch n := raw.(type) {
	case decimal.Decimal:
		return DecimalValue(n), nil
	case int:
		return DecimalValue(decimal.NewFromInt(int64(n))), nil
	case int32:
		return DecimalValue(decimal.NewFromInt32(n)), nil
	case int64:
		return DecimalValue(decimal.NewFromInt(n)), nil
	case float32:
		return DecimalValue(decimal.NewFromFloat32(n)), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, fmt.Errorf("must be a number")
		}
		return DecimalValue(decimal.NewFromFloat(n)), nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return Value{}, fmt.Errorf("must be a number")
		}
		return DecimalValue(d), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return Value{}, fmt.Errorf("must be a number")
		}
		return DecimalValue(d), nil
	default:
		return Value{}, fmt.Errorf("must be a number")
	}
}

func (decimalOps) Normalize(v Value) Value { return v }

func (decimalOps) Compare(a, b Value) (int, bool) {
	return a.dec.Cmp(b.dec), true
}

func (decimalOps) Substring() bool { return false }

func (decimalOps) Fold(s string) string { return s }

type booleanOps struct{}

func (booleanOps) Coerce(raw any) (Value, error) {
	switch b := raw.(type) {
	case bool:
		return BoolValue(b), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "t", "yes", "y", "1":
			return BoolValue(true), nil
		case "false", "f", "no", "n", "0":
			return BoolValue(false), nil
		}
	}
	return Value{}, fmt.Errorf("must be a boolean")
}

func (booleanOps) Normalize(v Value) Value { return v }

func (booleanOps) Compare(a, b Value) (int, bool) { return 0, false }

func (booleanOps) Substring() bool { return false }

func (booleanOps) Fold(s string) string { return s }

// FoldEmail canonicalizes an email address: surrounding whitespace is
// trimmed and the whole address, local part included, is lowercased.
func FoldEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
