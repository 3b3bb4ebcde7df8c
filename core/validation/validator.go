// Package validation checks raw input against a record type and
// normalizes it in the same pass.
package validation

import (
	"fmt"
	"sort"

	"github.com/artpar/querykit/core/schema"
)

// Option configures a Validator.
type Option func(*Validator)

// Strict reports input fields that the record type does not declare.
// By default they are ignored.
func Strict() Option {
	return func(v *Validator) { v.strict = true }
}

// Partial validates only the fields present in the input. Required
// checks and defaults are skipped for absent fields, and an explicit
// nil clears an optional field.
func Partial() Option {
	return func(v *Validator) { v.partial = true }
}

// Validator validates raw input against record types.
// The zero value is ready to use and is safe for concurrent callers.
type Validator struct {
	strict  bool
	partial bool
}

// New creates a validator with the given options.
func New(opts ...Option) Validator {
	var v Validator
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// Validate is shorthand for New(opts...).Validate(rt, raw).
func Validate(rt *schema.RecordType, raw map[string]any, opts ...Option) schema.Result {
	return New(opts...).Validate(rt, raw)
}

// Validate type-checks, constrains and normalizes raw input.
// Every field is checked independently so the result carries every
// violation. Errors are ordered by field declaration, with unknown
// fields last in name order, so identical input yields an identical result.
func (v Validator) Validate(rt *schema.RecordType, raw map[string]any) schema.Result {
	var errs []schema.FieldError
	values := make(schema.Values, rt.Len())

	for _, field := range rt.Fields() {
		value, present := raw[field.Name]

		if value == nil {
			if v.partial {
				if !present {
					continue
				}
				if field.Required {
					errs = append(errs, missing(field.Name))
					continue
				}
				values[field.Name] = schema.Null(field.Kind)
				continue
			}
			if field.Required {
				errs = append(errs, missing(field.Name))
				continue
			}
			if !field.HasDefault() {
				continue
			}
			value = field.Default
		}

		normalized, fe := checkField(field, value)
		if fe != nil {
			errs = append(errs, *fe)
			continue
		}
		values[field.Name] = normalized
	}

	if v.strict {
		errs = append(errs, unknownFields(rt, raw)...)
	}

	if len(errs) > 0 {
		return schema.Invalid(errs)
	}
	return schema.Valid(values)
}

// ValidateField checks a single raw value against a field spec.
// A nil value is reported missing only for required fields.
func ValidateField(field schema.FieldSpec, value any) (schema.Value, *schema.FieldError) {
	if value == nil {
		if field.Required {
			fe := missing(field.Name)
			return schema.Value{}, &fe
		}
		return schema.Null(field.Kind), nil
	}
	return checkField(field, value)
}

// checkField coerces, normalizes, then runs constraints in declaration order.
// A type mismatch skips normalization and constraints.
func checkField(field schema.FieldSpec, raw any) (schema.Value, *schema.FieldError) {
	ops := schema.OpsFor(field.Kind)
	if ops == nil {
		return schema.Value{}, &schema.FieldError{
			Field:   field.Name,
			Code:    schema.CodeTypeMismatch,
			Value:   raw,
			Message: fmt.Sprintf("unknown kind %q", field.Kind),
		}
	}

	coerced, err := ops.Coerce(raw)
	if err != nil {
		fe := &schema.FieldError{
			Field:   field.Name,
			Code:    schema.CodeTypeMismatch,
			Message: err.Error(),
		}
		if field.Kind != schema.KindSecret {
			fe.Value = raw
		}
		return schema.Value{}, fe
	}

	normalized := field.Normalize(coerced)
	for _, c := range field.Constraints {
		if fe := c.Check(field.Name, normalized); fe != nil {
			if field.Kind == schema.KindSecret {
				fe.Value = nil
			}
			return schema.Value{}, fe
		}
	}
	return normalized, nil
}

func missing(name string) schema.FieldError {
	return schema.FieldError{
		Field:   name,
		Code:    schema.CodeMissing,
		Message: "field is required",
	}
}

func unknownFields(rt *schema.RecordType, raw map[string]any) []schema.FieldError {
	var names []string
	for name := range raw {
		if _, ok := rt.Field(name); !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	errs := make([]schema.FieldError, 0, len(names))
	for _, name := range names {
		errs = append(errs, schema.FieldError{
			Field:   name,
			Code:    schema.CodeUnknown,
			Message: fmt.Sprintf("unknown field '%s' - not defined in schema", name),
		})
	}
	return errs
}
