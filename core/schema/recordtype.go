package schema

import "fmt"

// Definition is the YAML root of a record type definition.
type Definition struct {
	// Name is the singular type name (e.g., "user").
	Name string `yaml:"type"`

	// Description for documentation.
	Description string `yaml:"description,omitempty"`

	// Fields in declaration order.
	Fields []Field `yaml:"fields"`
}

// Reserved field names carry record identity and timestamps in
// external representations.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// IsReserved reports whether name is reserved for record metadata.
func IsReserved(name string) bool {
	return name == FieldID || name == FieldCreatedAt || name == FieldUpdatedAt
}

// RecordType is a named, ordered, immutable set of field specs.
// Build one with NewRecordType; the zero value has no fields.
type RecordType struct {
	name   string
	fields []FieldSpec
	index  map[string]int
}

// NewRecordType validates and compiles a record type.
// The fields slice is copied, so later changes to it have no effect.
func NewRecordType(name string, fields ...FieldSpec) (*RecordType, error) {
	if !isValidIdentifier(name) {
		return nil, fmt.Errorf("invalid record type name %q", name)
	}

	rt := &RecordType{
		name:   name,
		fields: make([]FieldSpec, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}

	for _, f := range fields {
		if !isValidIdentifier(f.Name) {
			return nil, fmt.Errorf("type %q: invalid field name %q", name, f.Name)
		}
		if IsReserved(f.Name) {
			return nil, fmt.Errorf("type %q: field name %q is reserved", name, f.Name)
		}
		if _, dup := rt.index[f.Name]; dup {
			return nil, fmt.Errorf("type %q: duplicate field %q", name, f.Name)
		}
		if !f.Kind.Valid() {
			return nil, fmt.Errorf("type %q: field %q: unknown kind %q", name, f.Name, f.Kind)
		}
		if f.Kind == KindReference && f.To == "" {
			return nil, fmt.Errorf("type %q: field %q: reference requires a target type", name, f.Name)
		}

		compiled := make([]Constraint, len(f.Constraints))
		for i, c := range f.Constraints {
			cc, err := c.compile()
			if err != nil {
				return nil, fmt.Errorf("type %q: field %q: %w", name, f.Name, err)
			}
			compiled[i] = cc
		}
		f.Constraints = compiled
		f.Normalizers = append([]Normalizer(nil), f.Normalizers...)

		if f.Default != nil {
			if _, err := OpsFor(f.Kind).Coerce(f.Default); err != nil {
				return nil, fmt.Errorf("type %q: field %q: default %v: %w", name, f.Name, f.Default, err)
			}
		}

		rt.index[f.Name] = len(rt.fields)
		rt.fields = append(rt.fields, f)
	}

	return rt, nil
}

// MustRecordType is NewRecordType that panics on error.
// Use it only for package-level definitions.
func MustRecordType(name string, fields ...FieldSpec) *RecordType {
	rt, err := NewRecordType(name, fields...)
	if err != nil {
		panic(err)
	}
	return rt
}

// Build compiles a YAML definition into a record type.
func (d Definition) Build() (*RecordType, error) {
	specs := make([]FieldSpec, 0, len(d.Fields))
	for _, f := range d.Fields {
		spec, err := f.Spec()
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", d.Name, err)
		}
		specs = append(specs, spec)
	}
	return NewRecordType(d.Name, specs...)
}

// Name returns the type name.
func (rt *RecordType) Name() string { return rt.name }

// Fields returns a copy of the field specs in declaration order.
func (rt *RecordType) Fields() []FieldSpec {
	return append([]FieldSpec(nil), rt.fields...)
}

// Field looks up a field spec by name.
func (rt *RecordType) Field(name string) (FieldSpec, bool) {
	i, ok := rt.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return rt.fields[i], true
}

// Len returns the number of fields.
func (rt *RecordType) Len() int { return len(rt.fields) }

// References returns the reference fields.
func (rt *RecordType) References() []FieldSpec {
	var refs []FieldSpec
	for _, f := range rt.fields {
		if f.Kind == KindReference {
			refs = append(refs, f)
		}
	}
	return refs
}
