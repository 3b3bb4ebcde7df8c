// Package serializer maps records to and from their external
// representation: a plain map of field name to JSON-friendly value.
package serializer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/core/validation"
)

// Resolver loads a referenced record for expanded serialization.
type Resolver interface {
	Resolve(ctx context.Context, typeName, id string) (*schema.RecordType, schema.Record, error)
}

// ErrNotExpandable is returned when an expand field is not a reference.
var ErrNotExpandable = errors.New("field is not a reference")

// Option configures a Serializer.
type Option func(*Serializer)

// WithResolver enables SerializeExpanded.
func WithResolver(r Resolver) Option {
	return func(s *Serializer) { s.resolver = r }
}

// WithStrict makes Deserialize reject undeclared fields.
func WithStrict() Option {
	return func(s *Serializer) { s.strict = true }
}

// Serializer converts records of one type.
type Serializer struct {
	rt       *schema.RecordType
	resolver Resolver
	strict   bool
}

// New creates a serializer for rt.
func New(rt *schema.RecordType, opts ...Option) Serializer {
	s := Serializer{rt: rt}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Serialize projects a record to its external representation.
// Strings, emails and references become string, integers int64,
// decimals their exact string form, booleans bool. Secret and internal
// fields are omitted; absent optional fields are nil. The identity and
// non-zero timestamps are included under the reserved keys.
func (s Serializer) Serialize(rec schema.Record) map[string]any {
	out := make(map[string]any, s.rt.Len()+3)
	if rec.ID != "" {
		out[schema.FieldID] = rec.ID
	}
	if !rec.CreatedAt.IsZero() {
		out[schema.FieldCreatedAt] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !rec.UpdatedAt.IsZero() {
		out[schema.FieldUpdatedAt] = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	for _, f := range s.rt.Fields() {
		if f.IsInternal() {
			continue
		}
		v, ok := rec.Get(f.Name)
		if !ok || v.IsNull() {
			out[f.Name] = nil
			continue
		}
		out[f.Name] = External(v)
	}
	return out
}

// SerializeAll serializes each record in order.
func (s Serializer) SerializeAll(records []schema.Record) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = s.Serialize(rec)
	}
	return out
}

// SerializeExpanded serializes rec and replaces each named reference
// field with the serialized referenced record.
func (s Serializer) SerializeExpanded(ctx context.Context, rec schema.Record, fields ...string) (map[string]any, error) {
	out := s.Serialize(rec)
	if len(fields) == 0 {
		return out, nil
	}
	if s.resolver == nil {
		return nil, errors.New("serializer: no resolver configured")
	}

	for _, name := range fields {
		f, ok := s.rt.Field(name)
		if !ok || f.Kind != schema.KindReference {
			return nil, fmt.Errorf("expand %s.%s: %w", s.rt.Name(), name, ErrNotExpandable)
		}
		v, ok := rec.Get(name)
		if !ok || v.IsNull() {
			continue
		}

		targetType, target, err := s.resolver.Resolve(ctx, f.To, v.Str())
		if err != nil {
			return nil, fmt.Errorf("expand %s.%s: %w", s.rt.Name(), name, err)
		}
		out[name] = New(targetType).Serialize(target)
	}
	return out, nil
}

// Deserialize validates an external representation for create or full
// update. Reserved metadata keys are ignored.
func (s Serializer) Deserialize(ext map[string]any) schema.Result {
	return validation.Validate(s.rt, stripReserved(ext), s.options()...)
}

// DeserializePartial validates an external representation for a patch.
func (s Serializer) DeserializePartial(ext map[string]any) schema.Result {
	return validation.Validate(s.rt, stripReserved(ext), append(s.options(), validation.Partial())...)
}

func (s Serializer) options() []validation.Option {
	if s.strict {
		return []validation.Option{validation.Strict()}
	}
	return nil
}

// External converts a value to its external Go form.
func External(v schema.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case schema.KindInteger:
		return v.Int()
	case schema.KindDecimal:
		return v.Decimal().String()
	case schema.KindBoolean:
		return v.Bool()
	default:
		return v.Str()
	}
}

func stripReserved(ext map[string]any) map[string]any {
	out := make(map[string]any, len(ext))
	for k, v := range ext {
		if schema.IsReserved(k) {
			continue
		}
		out[k] = v
	}
	return out
}
