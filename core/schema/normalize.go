package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalizer transforms a well-typed value into its canonical stored form.
// Apply must be pure: the same input always yields the same output.
type Normalizer struct {
	Name  string
	Apply func(Value) Value
}

// Trim removes surrounding whitespace from string-like values.
var Trim = Normalizer{
	Name: "trim",
	Apply: func(v Value) Value {
		if v.IsNull() || !isText(v.kind) {
			return v
		}
		return StringValue(v.kind, strings.TrimSpace(v.str))
	},
}

// Lower lowercases string-like values.
var Lower = Normalizer{
	Name: "lower",
	Apply: func(v Value) Value {
		if v.IsNull() || !isText(v.kind) {
			return v
		}
		return StringValue(v.kind, strings.ToLower(v.str))
	},
}

// Email trims and lowercases the entire address, local part included,
// so uniqueness matching is exact.
var Email = Normalizer{
	Name: "email",
	Apply: func(v Value) Value {
		if v.IsNull() || !isText(v.kind) {
			return v
		}
		return StringValue(v.kind, FoldEmail(v.str))
	},
}

// Quantize rounds decimal values to scale places, half away from zero.
// Non-decimal values pass through.
func Quantize(scale int32) Normalizer {
	return Normalizer{
		Name: "quantize:" + strconv.Itoa(int(scale)),
		Apply: func(v Value) Value {
			if v.IsNull() || v.kind != KindDecimal {
				return v
			}
			return DecimalValue(v.dec.Round(scale))
		},
	}
}

// NormalizerByName resolves a normalizer from its YAML spelling:
// "trim", "lower", "email", or "quantize:<scale>".
func NormalizerByName(name string) (Normalizer, error) {
	name = strings.TrimSpace(name)
	switch name {
	case "trim":
		return Trim, nil
	case "lower":
		return Lower, nil
	case "email":
		return Email, nil
	}
	if rest, ok := strings.CutPrefix(name, "quantize:"); ok {
		scale, err := strconv.ParseInt(rest, 10, 32)
		if err != nil || scale < 0 {
			return Normalizer{}, fmt.Errorf("invalid quantize scale %q", rest)
		}
		return Quantize(int32(scale)), nil
	}
	return Normalizer{}, fmt.Errorf("unknown normalizer %q", name)
}

// Normalize applies the kind's own normalization, then each declared
// normalizer left to right.
func (f FieldSpec) Normalize(v Value) Value {
	if ops := OpsFor(f.Kind); ops != nil {
		v = ops.Normalize(v)
	}
	for _, n := range f.Normalizers {
		v = n.Apply(v)
	}
	return v
}

func isText(k Kind) bool {
	switch k {
	case KindString, KindEmail, KindReference, KindSecret:
		return true
	}
	return false
}
