package serializer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/querykit/core/schema"
	"github.com/shopspring/decimal"
)

var (
	teamType = schema.MustRecordType("team",
		schema.FieldSpec{Name: "label", Kind: schema.KindString, Required: true},
	)
	userType = schema.MustRecordType("user",
		schema.FieldSpec{Name: "email", Kind: schema.KindEmail, Required: true},
		schema.FieldSpec{Name: "name", Kind: schema.KindString, Required: true, Normalizers: []schema.Normalizer{schema.Trim}},
		schema.FieldSpec{Name: "age", Kind: schema.KindInteger},
		schema.FieldSpec{Name: "balance", Kind: schema.KindDecimal, Normalizers: []schema.Normalizer{schema.Quantize(2)}},
		schema.FieldSpec{Name: "is_active", Kind: schema.KindBoolean, Default: true},
		schema.FieldSpec{Name: "team", Kind: schema.KindReference, To: "team"},
		schema.FieldSpec{Name: "password", Kind: schema.KindSecret},
	)
)

type fakeResolver struct {
	records map[string]schema.Record
}

func (f fakeResolver) Resolve(_ context.Context, typeName, id string) (*schema.RecordType, schema.Record, error) {
	rec, ok := f.records[typeName+"/"+id]
	if !ok {
		return nil, schema.Record{}, errors.New("not found")
	}
	return teamType, rec, nil
}

func annRecord() schema.Record {
	rec := schema.NewRecord("user", "u1", schema.Values{
		"email":     schema.StringValue(schema.KindEmail, "ann@example.com"),
		"name":      schema.StringValue(schema.KindString, "Ann"),
		"age":       schema.IntValue(30),
		"balance":   schema.DecimalValue(decimal.RequireFromString("12.50")),
		"is_active": schema.BoolValue(true),
		"team":      schema.StringValue(schema.KindReference, "t1"),
		"password":  schema.StringValue(schema.KindSecret, "$2a$10$hash"),
	})
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return rec.Stamped(created, created)
}

func TestSerialize(t *testing.T) {
	out := New(userType).Serialize(annRecord())

	tests := []struct {
		key  string
		want any
	}{
		{"id", "u1"},
		{"email", "ann@example.com"},
		{"name", "Ann"},
		{"age", int64(30)},
		{"balance", "12.5"},
		{"is_active", true},
		{"team", "t1"},
		{"created_at", "2024-01-02T03:04:05Z"},
	}
	for _, tt := range tests {
		if got := out[tt.key]; got != tt.want {
			t.Errorf("out[%s] = %#v, want %#v", tt.key, got, tt.want)
		}
	}

	if _, ok := out["password"]; ok {
		t.Error("secret field should be omitted")
	}
}

func TestSerializeNullOptional(t *testing.T) {
	rec := schema.NewRecord("user", "u2", schema.Values{
		"email": schema.StringValue(schema.KindEmail, "b@c.com"),
		"name":  schema.StringValue(schema.KindString, "Bo"),
		"age":   schema.Null(schema.KindInteger),
	})
	out := New(userType).Serialize(rec)

	for _, key := range []string{"age", "team", "balance"} {
		v, ok := out[key]
		if !ok || v != nil {
			t.Errorf("out[%s] = %v (present %v), want nil", key, v, ok)
		}
	}
	if _, ok := out["created_at"]; ok {
		t.Error("zero timestamps should be omitted")
	}
}

func TestRoundTrip(t *testing.T) {
	s := New(userType)
	rec := annRecord()

	result := s.Deserialize(s.Serialize(rec))
	if !result.IsValid() {
		t.Fatalf("Deserialize errors: %v", result.Errors())
	}

	got := result.Values()
	for _, f := range userType.Fields() {
		if f.Kind == schema.KindReference || f.Kind == schema.KindSecret {
			continue
		}
		want, _ := rec.Get(f.Name)
		if !got[f.Name].Equal(want) {
			t.Errorf("%s = %v, want %v", f.Name, got[f.Name], want)
		}
	}
}

func TestDeserializeStrict(t *testing.T) {
	ext := map[string]any{"id": "x", "email": "a@b.com", "name": "A", "extra": 1}

	if r := New(userType).Deserialize(ext); !r.IsValid() {
		t.Errorf("non-strict Deserialize errors: %v", r.Errors())
	}
	r := New(userType, WithStrict()).Deserialize(ext)
	if r.IsValid() {
		t.Fatal("strict Deserialize should reject extra")
	}
	if errs := r.Errors(); len(errs) != 1 || errs[0].Field != "extra" {
		t.Errorf("errors = %v, want only extra", errs)
	}
}

func TestDeserializePartial(t *testing.T) {
	r := New(userType).DeserializePartial(map[string]any{"age": "31"})
	if !r.IsValid() {
		t.Fatalf("DeserializePartial errors: %v", r.Errors())
	}
	if got := r.Values()["age"].Int(); got != 31 {
		t.Errorf("age = %d, want 31", got)
	}
}

func TestSerializeExpanded(t *testing.T) {
	resolver := fakeResolver{records: map[string]schema.Record{
		"team/t1": schema.NewRecord("team", "t1", schema.Values{
			"label": schema.StringValue(schema.KindString, "Core"),
		}),
	}}
	s := New(userType, WithResolver(resolver))

	out, err := s.SerializeExpanded(context.Background(), annRecord(), "team")
	if err != nil {
		t.Fatalf("SerializeExpanded error = %v", err)
	}
	team, ok := out["team"].(map[string]any)
	if !ok {
		t.Fatalf("team = %T, want map", out["team"])
	}
	if team["label"] != "Core" || team["id"] != "t1" {
		t.Errorf("team = %v, want label Core id t1", team)
	}

	if _, err := s.SerializeExpanded(context.Background(), annRecord(), "name"); !errors.Is(err, ErrNotExpandable) {
		t.Errorf("expand name error = %v, want ErrNotExpandable", err)
	}
	if _, err := New(userType).SerializeExpanded(context.Background(), annRecord(), "team"); err == nil {
		t.Error("expand without resolver should fail")
	}
}
