package schema

import (
	"fmt"
	"strings"
)

// Code classifies a field-level validation failure.
type Code string

const (
	CodeMissing      Code = "missing"
	CodeTypeMismatch Code = "type_mismatch"
	CodeUnknown      Code = "unknown"
)

// FieldError describes one field-level validation failure.
type FieldError struct {
	Field   string `json:"field" yaml:"field"`
	Code    Code   `json:"code" yaml:"code"`
	Value   any    `json:"value,omitempty" yaml:"value,omitempty"`
	Message string `json:"message" yaml:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Values maps field names to normalized values.
type Values map[string]Value

// Clone returns a shallow copy; Value itself is immutable.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Result is either Valid with normalized values or Invalid with every
// field error. It is never both.
type Result struct {
	values Values
	errs   []FieldError
}

// Valid builds a successful result.
func Valid(values Values) Result {
	if values == nil {
		values = Values{}
	}
	return Result{values: values}
}

// Invalid builds a failed result. It panics on an empty error list,
// which would make the result ambiguous.
func Invalid(errs []FieldError) Result {
	if len(errs) == 0 {
		panic("schema: Invalid requires at least one error")
	}
	return Result{errs: append([]FieldError(nil), errs...)}
}

// IsValid reports whether validation passed.
func (r Result) IsValid() bool {
	return len(r.errs) == 0
}

// Values returns a copy of the normalized values, or nil when invalid.
func (r Result) Values() Values {
	if !r.IsValid() {
		return nil
	}
	return r.values.Clone()
}

// Errors returns a copy of the field errors.
func (r Result) Errors() []FieldError {
	return append([]FieldError(nil), r.errs...)
}

// Err returns a *ValidationError when invalid, nil otherwise.
func (r Result) Err() error {
	if r.IsValid() {
		return nil
	}
	return &ValidationError{Errors: r.Errors()}
}

// ValidationError aggregates every field error from one validation pass.
type ValidationError struct {
	Type   string       `json:"type,omitempty"`
	Errors []FieldError `json:"errors"`
}

// Error returns a combined error message.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Error())
	}
	prefix := "validation failed"
	if e.Type != "" {
		prefix = e.Type + " " + prefix
	}
	return prefix + ": " + strings.Join(msgs, "; ")
}

// Codes returns the first reported error code for each field.
func (e *ValidationError) Codes() map[string]Code {
	out := make(map[string]Code, len(e.Errors))
	for _, fe := range e.Errors {
		if _, seen := out[fe.Field]; !seen {
			out[fe.Field] = fe.Code
		}
	}
	return out
}
