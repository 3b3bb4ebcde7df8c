// Package memory provides an in-memory record store.
// Useful for testing and for short-lived CLI sessions.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/querykit/adapters/clock"
	"github.com/artpar/querykit/adapters/idgen"
	"github.com/artpar/querykit/core/query"
	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/ports"
)

// Store is an in-memory implementation of ports.Store.
// Concurrent writes to one identity are last-write-wins.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	ids    ports.IDGenerator
	clock  ports.Clock
}

type table struct {
	records map[string]schema.Record
	order   []string // insertion order
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the identity generator. Default: UUIDs.
func WithIDGenerator(g ports.IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithClock sets the clock used for timestamps.
func WithClock(c ports.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]*table),
		ids:    idgen.UUID{},
		clock:  clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{records: make(map[string]schema.Record)}
		s.tables[name] = t
	}
	return t
}

// Insert stores a new record.
func (s *Store) Insert(ctx context.Context, rt *schema.RecordType, values schema.Values) (schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return schema.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(rt.Name())
	if err := t.checkUnique(rt, "", values); err != nil {
		return schema.Record{}, err
	}

	now := s.clock.Now()
	rec := schema.NewRecord(rt.Name(), s.ids.New(), values).Stamped(now, now)
	if _, exists := t.records[rec.ID]; exists {
		return schema.Record{}, &ports.ConflictError{Type: rt.Name(), Field: schema.FieldID, Err: errors.New("duplicate identity")}
	}

	t.records[rec.ID] = rec
	t.order = append(t.order, rec.ID)
	return rec, nil
}

// Update merges values into an existing record.
func (s *Store) Update(ctx context.Context, rt *schema.RecordType, id string, values schema.Values) (schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return schema.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(rt.Name())
	old, ok := t.records[id]
	if !ok {
		return schema.Record{}, ports.ErrNotFound
	}

	merged := old.With(values)
	if err := t.checkUnique(rt, id, merged.Values()); err != nil {
		return schema.Record{}, err
	}

	rec := merged.Stamped(old.CreatedAt, s.clock.Now())
	t.records[id] = rec
	return rec, nil
}

// Get retrieves a record by identity.
func (s *Store) Get(ctx context.Context, rt *schema.RecordType, id string) (schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[rt.Name()]
	if !ok {
		return schema.Record{}, ports.ErrNotFound
	}
	rec, ok := t.records[id]
	if !ok {
		return schema.Record{}, ports.ErrNotFound
	}
	return rec, nil
}

// Query returns a cursor over a snapshot of matching records.
func (s *Store) Query(ctx context.Context, spec query.Spec) (ports.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ports.NewSliceCursor(s.match(spec)), nil
}

// Count counts matching records, honoring the limit.
func (s *Store) Count(ctx context.Context, spec query.Spec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(s.match(spec))), nil
}

// Len returns the number of records of a type.
func (s *Store) Len(typeName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[typeName]; ok {
		return len(t.records)
	}
	return 0
}

func (s *Store) match(spec query.Spec) []schema.Record {
	s.mu.RLock()
	var matched []schema.Record
	if t, ok := s.tables[spec.Type().Name()]; ok {
		for _, id := range t.order {
			if rec := t.records[id]; spec.Matches(rec) {
				matched = append(matched, rec)
			}
		}
	}
	s.mu.RUnlock()

	if order := spec.Order(); len(order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return query.CompareRecords(order, matched[i], matched[j]) < 0
		})
	}
	if limit, ok := spec.Limit(); ok && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}

// checkUnique rejects values that collide with another record on a
// unique field. Nulls never collide.
func (t *table) checkUnique(rt *schema.RecordType, self string, values schema.Values) error {
	for _, f := range rt.Fields() {
		if !f.Unique {
			continue
		}
		v, ok := values[f.Name]
		if !ok || v.IsNull() {
			continue
		}
		for id, rec := range t.records {
			if id == self {
				continue
			}
			if other, ok := rec.Get(f.Name); ok && other.Equal(v) {
				return &ports.ConflictError{
					Type:  rt.Name(),
					Field: f.Name,
					Err:   fmt.Errorf("value %s already exists", v),
				}
			}
		}
	}
	return nil
}

// Ensure interface compliance.
var (
	_ ports.Store   = (*Store)(nil)
	_ ports.Counter = (*Store)(nil)
	_ ports.Getter  = (*Store)(nil)
)
