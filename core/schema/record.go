package schema

import "time"

// Record is an immutable stored instance of a record type.
// Its identity and timestamps are assigned by the store.
type Record struct {
	ID        string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time

	values Values
}

// NewRecord builds a record; values are copied.
func NewRecord(typeName, id string, values Values) Record {
	return Record{ID: id, Type: typeName, values: values.Clone()}
}

// Get returns the value of a field. Absent fields report ok=false.
func (r Record) Get(field string) (Value, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Values returns a copy of all field values.
func (r Record) Values() Values {
	return r.values.Clone()
}

// With returns a new record bound to the same identity with values
// merged over the current ones. The receiver is unchanged.
func (r Record) With(values Values) Record {
	merged := r.values.Clone()
	for k, v := range values {
		merged[k] = v
	}
	out := r
	out.values = merged
	return out
}

// Stamped returns a copy with the given timestamps.
func (r Record) Stamped(created, updated time.Time) Record {
	out := r
	out.CreatedAt = created
	out.UpdatedAt = updated
	return out
}
