package schema

import "fmt"

// Field is the YAML definition of one attribute of a record type.
type Field struct {
	// Name is the attribute name, unique within the type.
	Name string `yaml:"name"`

	// Kind is the field kind. See the Kind constants; short aliases
	// such as "int" and "ref" are accepted.
	Kind string `yaml:"kind"`

	// Required fields must be present on create and full update.
	Required bool `yaml:"required,omitempty"`

	// Unique asks the store to reject duplicate values.
	Unique bool `yaml:"unique,omitempty"`

	// Default value applied when the field is absent.
	Default any `yaml:"default,omitempty"`

	// To names the target record type of a reference field.
	To string `yaml:"to,omitempty"`

	// Internal fields are never serialized (secrets are always internal).
	Internal bool `yaml:"internal,omitempty"`

	// Normalize lists normalizer names applied left to right.
	Normalize []string `yaml:"normalize,omitempty"`

	// Constraints are checked in declaration order.
	Constraints []Constraint `yaml:"constraints,omitempty"`
}

// FieldSpec is the compiled, immutable description of one attribute.
type FieldSpec struct {
	Name        string
	Kind        Kind
	Required    bool
	Unique      bool
	Default     any
	To          string
	Internal    bool
	Normalizers []Normalizer
	Constraints []Constraint
}

// IsInternal returns whether the field is hidden from external representations.
func (f FieldSpec) IsInternal() bool {
	return f.Internal || f.Kind == KindSecret
}

// HasDefault reports whether the field declares a default value.
func (f FieldSpec) HasDefault() bool {
	return f.Default != nil
}

// Spec compiles a YAML field definition.
func (f Field) Spec() (FieldSpec, error) {
	kind, err := ParseKind(f.Kind)
	if err != nil {
		return FieldSpec{}, fmt.Errorf("field %q: %w", f.Name, err)
	}

	spec := FieldSpec{
		Name:        f.Name,
		Kind:        kind,
		Required:    f.Required,
		Unique:      f.Unique,
		Default:     f.Default,
		To:          f.To,
		Internal:    f.Internal,
		Constraints: f.Constraints,
	}

	for _, name := range f.Normalize {
		n, err := NormalizerByName(name)
		if err != nil {
			return FieldSpec{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		spec.Normalizers = append(spec.Normalizers, n)
	}

	return spec, nil
}
