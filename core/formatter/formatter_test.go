package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/artpar/querykit/core/schema"
	"gopkg.in/yaml.v3"
)

func testType() *schema.RecordType {
	return schema.MustRecordType("user",
		schema.FieldSpec{Name: "name", Kind: schema.KindString, Required: true},
		schema.FieldSpec{Name: "email", Kind: schema.KindEmail, Required: true},
		schema.FieldSpec{Name: "is_active", Kind: schema.KindBoolean},
		schema.FieldSpec{Name: "password", Kind: schema.KindSecret},
		schema.FieldSpec{Name: "note", Kind: schema.KindString, Internal: true},
	)
}

// Helper function to create test records
func createTestRecords() []map[string]any {
	return []map[string]any{
		{"id": "u1", "name": "Ann", "email": "ann@example.com", "is_active": true, "created_at": "2024-01-01T00:00:00Z"},
		{"id": "u2", "name": "Bob", "email": "bob@example.com", "is_active": false, "note": "leak"},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(NewJSONFormatter()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(NewJSONFormatter()); err == nil {
		t.Error("duplicate Register() should fail")
	}
	if f, ok := r.Get("json"); !ok || f.Name() != "json" {
		t.Errorf("Get(json) = %v, %v", f, ok)
	}
	if _, ok := r.Get("csv"); ok {
		t.Error("Get(csv) should fail")
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(NewJSONFormatter())
	_ = r.Register(NewYAMLFormatter())

	if f, err := r.Lookup("yaml"); err != nil || f.Name() != "yaml" {
		t.Errorf("Lookup(yaml) = %v, %v", f, err)
	}

	_, err := r.Lookup("csv")
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("Lookup(csv) error = %v, want ErrUnknownFormat", err)
	}
	if !strings.Contains(err.Error(), "available: json, yaml") {
		t.Errorf("error = %q, want available formats listed", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	got := List()
	want := []string{"json", "jsonapi", "table", "yaml"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List() = %v, want %v", got, want)
	}
	if _, err := Lookup("table"); err != nil {
		t.Errorf("Lookup(table) error = %v", err)
	}
}

func TestColumns(t *testing.T) {
	got := Columns(testType())
	want := []string{"id", "name", "email", "is_active", "created_at", "updated_at"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Columns() = %v, want %v", got, want)
	}
}

func TestTableFormatter_FormatList(t *testing.T) {
	f := NewTableFormatter()
	rt := testType()

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		if err := f.FormatList(&buf, rt, nil, FormatOptions{}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "No records found.") {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("default columns", func(t *testing.T) {
		var buf bytes.Buffer
		if err := f.FormatList(&buf, rt, createTestRecords(), FormatOptions{}); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"ID", "NAME", "EMAIL", "IS_ACTIVE", "Ann", "bob@example.com", "yes", "no"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		for _, hidden := range []string{"PASSWORD", "NOTE", "leak"} {
			if strings.Contains(out, hidden) {
				t.Errorf("output contains %q:\n%s", hidden, out)
			}
		}
	})

	t.Run("columns and no header", func(t *testing.T) {
		var buf bytes.Buffer
		opts := FormatOptions{Columns: []string{"name"}, NoHeader: true}
		if err := f.FormatList(&buf, rt, createTestRecords(), opts); err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 || strings.TrimSpace(lines[0]) != "Ann" {
			t.Errorf("lines = %q, want [Ann Bob]", lines)
		}
	})
}

func TestTableFormatter_FormatRecord(t *testing.T) {
	f := NewTableFormatter()
	rt := testType()

	var buf bytes.Buffer
	if err := f.FormatRecord(&buf, rt, nil, FormatOptions{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Record not found.") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	if err := f.FormatRecord(&buf, rt, createTestRecords()[0], FormatOptions{}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Is Active:") || !strings.Contains(out, "Created At:") {
		t.Errorf("output missing labels:\n%s", out)
	}
}

func TestTableFormatter_FormatError(t *testing.T) {
	f := NewTableFormatter()

	var buf bytes.Buffer
	f.FormatError(&buf, errors.New("boom"))
	if buf.String() != "Error: boom\n" {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	ve := &schema.ValidationError{Type: "user", Errors: []schema.FieldError{
		{Field: "name", Code: schema.CodeMissing, Message: "field is required"},
	}}
	f.FormatError(&buf, ve)
	out := buf.String()
	if !strings.Contains(out, "validation failed") || !strings.Contains(out, "name") || !strings.Contains(out, "missing") {
		t.Errorf("output = %q", out)
	}
}

func TestTableFormatter_FormatValue(t *testing.T) {
	f := NewTableFormatter()

	tests := []struct {
		name     string
		val      any
		maxWidth int
		expected string
	}{
		{"nil", nil, 0, "-"},
		{"string", "hello", 0, "hello"},
		{"bool true", true, 0, "yes"},
		{"bool false", false, 0, "no"},
		{"int64", int64(42), 0, "42"},
		{"float whole", float64(42), 0, "42"},
		{"float decimal", float64(3.14159), 0, "3.14"},
		{"expanded", map[string]any{"id": "u1", "name": "Ann"}, 0, "u1 (expanded)"},
		{"map without id", map[string]any{"n": 1}, 0, `{"n":1}`},
		{"truncate", "this is a very long string", 10, "this is..."},
		{"exact width", "123456789", 9, "123456789"},
		{"truncate runes", "Zoë Ångström-Ødegård", 8, "Zoë Å..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.formatValue(tt.val, tt.maxWidth)
			if got != tt.expected {
				t.Errorf("formatValue(%v, %d) = %q, want %q", tt.val, tt.maxWidth, got, tt.expected)
			}
		})
	}
}

func TestJSONFormatter_FormatList(t *testing.T) {
	f := NewJSONFormatter()

	var buf bytes.Buffer
	if err := f.FormatList(&buf, testType(), createTestRecords(), FormatOptions{Compact: true}); err != nil {
		t.Fatal(err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("compact output should be one line: %q", buf.String())
	}

	var doc struct {
		Type  string           `json:"type"`
		Count int              `json:"count"`
		Data  []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Type != "user" || doc.Count != 2 {
		t.Errorf("type = %q count = %d, want user 2", doc.Type, doc.Count)
	}
	if _, ok := doc.Data[1]["note"]; ok {
		t.Error("internal field note should be removed")
	}
}

func TestJSONFormatter_FormatRecord(t *testing.T) {
	f := NewJSONFormatter()

	var buf bytes.Buffer
	if err := f.FormatRecord(&buf, testType(), createTestRecords()[0], FormatOptions{Columns: []string{"id", "missing"}}); err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	data := doc["data"].(map[string]any)
	if len(data) != 1 || data["id"] != "u1" {
		t.Errorf("data = %v, want only id", data)
	}

	buf.Reset()
	f.FormatRecord(&buf, testType(), nil, FormatOptions{})
	if !strings.Contains(buf.String(), `"data": null`) {
		t.Errorf("nil record output = %q", buf.String())
	}
}

func TestJSONFormatter_FormatError(t *testing.T) {
	f := NewJSONFormatter()
	ve := &schema.ValidationError{Errors: []schema.FieldError{
		{Field: "email", Code: schema.CodeTypeMismatch, Message: "invalid email address"},
	}}

	var buf bytes.Buffer
	if err := f.FormatError(&buf, ve); err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Error  string              `json:"error"`
		Fields []schema.FieldError `json:"fields"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Fields) != 1 || doc.Fields[0].Code != schema.CodeTypeMismatch {
		t.Errorf("fields = %v", doc.Fields)
	}
}

func TestYAMLFormatter_FormatList(t *testing.T) {
	f := NewYAMLFormatter()

	var buf bytes.Buffer
	if err := f.FormatList(&buf, testType(), createTestRecords(), FormatOptions{Columns: []string{"name"}}); err != nil {
		t.Fatal(err)
	}

	var doc struct {
		Type  string           `yaml:"type"`
		Count int              `yaml:"count"`
		Data  []map[string]any `yaml:"data"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Count != 2 || doc.Data[0]["name"] != "Ann" || len(doc.Data[0]) != 1 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestYAMLFormatter_FormatError(t *testing.T) {
	f := NewYAMLFormatter()

	var buf bytes.Buffer
	f.FormatError(&buf, errors.New("boom"))
	if !strings.Contains(buf.String(), "error: boom") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFormatters_ImplementInterface(t *testing.T) {
	var _ Formatter = NewTableFormatter()
	var _ Formatter = NewJSONFormatter()
	var _ Formatter = NewYAMLFormatter()
}
