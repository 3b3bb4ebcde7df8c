package schema

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestEmailNormalization(t *testing.T) {
	spec := FieldSpec{Name: "email", Kind: KindEmail}

	a := spec.Normalize(StringValue(KindEmail, "Foo@Bar.com"))
	b := spec.Normalize(StringValue(KindEmail, "foo@bar.com"))

	if !a.Equal(b) {
		t.Errorf("Normalize(Foo@Bar.com) = %v, want %v", a, b)
	}
	if a.Str() != "foo@bar.com" {
		t.Errorf("Normalize(Foo@Bar.com) = %q, want %q", a.Str(), "foo@bar.com")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	tests := []struct {
		name string
		spec FieldSpec
		in   Value
	}{
		{"email", FieldSpec{Kind: KindEmail}, StringValue(KindEmail, "  MiXeD@Example.ORG ")},
		{"trim lower", FieldSpec{Kind: KindString, Normalizers: []Normalizer{Trim, Lower}}, StringValue(KindString, "  Hello ")},
		{"quantize", FieldSpec{Kind: KindDecimal, Normalizers: []Normalizer{Quantize(2)}}, DecimalValue(decimal.RequireFromString("1.23456"))},
		{"null", FieldSpec{Kind: KindString, Normalizers: []Normalizer{Trim}}, Null(KindString)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := tt.spec.Normalize(tt.in)
			twice := tt.spec.Normalize(once)
			if !once.Equal(twice) {
				t.Errorf("Normalize not idempotent: %v then %v", once, twice)
			}
		})
	}
}

func TestNormalizerOrder(t *testing.T) {
	spec := FieldSpec{Kind: KindString, Normalizers: []Normalizer{Trim, Lower}}
	got := spec.Normalize(StringValue(KindString, "  ANN  "))
	if got.Str() != "ann" {
		t.Errorf("Normalize = %q, want %q", got.Str(), "ann")
	}
}

func TestQuantize(t *testing.T) {
	got := Quantize(2).Apply(DecimalValue(decimal.RequireFromString("2.345")))
	want := decimal.RequireFromString("2.35")
	if !got.Decimal().Equal(want) {
		t.Errorf("Quantize(2) = %s, want %s", got.Decimal(), want)
	}

	// Non-decimals pass through.
	in := StringValue(KindString, "x")
	if out := Quantize(2).Apply(in); !out.Equal(in) {
		t.Errorf("Quantize(2) on string = %v, want %v", out, in)
	}
}

func TestNormalizerByName(t *testing.T) {
	for _, name := range []string{"trim", "lower", "email", "quantize:2", " trim "} {
		if _, err := NormalizerByName(name); err != nil {
			t.Errorf("NormalizerByName(%q) error = %v", name, err)
		}
	}
	for _, name := range []string{"upper", "quantize:x", "quantize:-2", ""} {
		if _, err := NormalizerByName(name); err == nil {
			t.Errorf("NormalizerByName(%q) should fail", name)
		}
	}
}
