package schema

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Value is a typed field value. The zero Value is null.
// Values are immutable; the payload matching Kind is the only one set.
type Value struct {
	kind Kind
	set  bool
	str  string
	num  int64
	dec  decimal.Decimal
	flag bool
}

// Null returns the null value for a kind.
func Null(k Kind) Value {
	return Value{kind: k}
}

// StringValue builds a value for the string-like kinds (string, email, reference, secret).
func StringValue(k Kind, s string) Value {
	return Value{kind: k, set: true, str: s}
}

// IntValue builds an integer value.
func IntValue(n int64) Value {
	return Value{kind: KindInteger, set: true, num: n}
}

// DecimalValue builds a decimal value.
func DecimalValue(d decimal.Decimal) Value {
	return Value{kind: KindDecimal, set: true, dec: d}
}

// BoolValue builds a boolean value.
func BoolValue(b bool) Value {
	return Value{kind: KindBoolean, set: true, flag: b}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return !v.set }

// Str returns the string payload for string-like kinds.
func (v Value) Str() string { return v.str }

// Int returns the integer payload.
func (v Value) Int() int64 { return v.num }

// Decimal returns the decimal payload.
func (v Value) Decimal() decimal.Decimal { return v.dec }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.flag }

// Interface returns the value as a plain Go value: string, int64,
// decimal.Decimal, bool, or nil when null.
func (v Value) Interface() any {
	if !v.set {
		return nil
	}
	switch v.kind {
	case KindInteger:
		return v.num
	case KindDecimal:
		return v.dec
	case KindBoolean:
		return v.flag
	default:
		return v.str
	}
}

// Equal reports whether two values have the same kind and payload.
// Decimals compare numerically, so 1.50 equals 1.5.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.set != o.set {
		return false
	}
	if !v.set {
		return true
	}
	switch v.kind {
	case KindInteger:
		return v.num == o.num
	case KindDecimal:
		return v.dec.Equal(o.dec)
	case KindBoolean:
		return v.flag == o.flag
	default:
		return v.str == o.str
	}
}

// String renders the value for logs and tables.
func (v Value) String() string {
	if !v.set {
		return "<null>"
	}
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.num, 10)
	case KindDecimal:
		return v.dec.String()
	case KindBoolean:
		return strconv.FormatBool(v.flag)
	case KindSecret:
		return "********"
	default:
		return v.str
	}
}

// GoString keeps secrets out of %#v output.
func (v Value) GoString() string {
	return fmt.Sprintf("schema.Value{%s:%s}", v.kind, v.String())
}
