// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/querykit/core/query"
	"github.com/artpar/querykit/core/schema"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides one-way hashing for secret fields.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Record Store Ports
// -----------------------------------------------------------------------------

// Store persists records. Values passed to Insert and Update are
// already validated and normalized. Stores assign identity and
// timestamps and synchronize internally.
type Store interface {
	// Insert persists a new record. Unique violations return a *ConflictError.
	Insert(ctx context.Context, rt *schema.RecordType, values schema.Values) (schema.Record, error)

	// Update merges values into an existing record. It returns
	// ErrNotFound when id does not resolve.
	Update(ctx context.Context, rt *schema.RecordType, id string, values schema.Values) (schema.Record, error)

	// Query opens a cursor over matching records. It must honor the
	// spec's ordering and limit.
	Query(ctx context.Context, spec query.Spec) (Cursor, error)
}

// Cursor is a single-pass iterator over query results.
// Close must be called once the caller is done, even on early exit.
type Cursor interface {
	Next() bool
	Record() schema.Record
	Err() error
	Close() error
}

// Counter is implemented by stores that count without reading records.
type Counter interface {
	Count(ctx context.Context, spec query.Spec) (int64, error)
}

// Getter is implemented by stores that fetch one record by identity.
type Getter interface {
	Get(ctx context.Context, rt *schema.RecordType, id string) (schema.Record, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("not found")

	// ErrConflict is the sentinel matched by every *ConflictError.
	ErrConflict = errors.New("conflict")
)

// ConflictError reports a write rejected by the store, usually a
// unique constraint.
type ConflictError struct {
	Type  string
	Field string
	Err   error
}

func (e *ConflictError) Error() string {
	msg := "conflict"
	if e.Type != "" {
		msg = e.Type + " " + msg
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" on %s", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrConflict) hold.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

// SliceCursor serves records from memory.
type SliceCursor struct {
	records []schema.Record
	pos     int
	closed  bool
}

// NewSliceCursor returns a cursor over records. The slice is not copied.
func NewSliceCursor(records []schema.Record) *SliceCursor {
	return &SliceCursor{records: records, pos: -1}
}

func (c *SliceCursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.records) {
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor) Record() schema.Record {
	if c.pos < 0 || c.pos >= len(c.records) {
		return schema.Record{}
	}
	return c.records[c.pos]
}

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *SliceCursor) Closed() bool { return c.closed }
