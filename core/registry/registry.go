// Package registry holds the record types known to a process and
// checks that references between them resolve. It hands out managers
// and a reference resolver for serialization.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/artpar/querykit/core/manager"
	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/core/serializer"
	"github.com/artpar/querykit/ports"
)

// ErrUnknownType is returned when a record type is not registered.
var ErrUnknownType = errors.New("unknown record type")

// Registry manages registered record types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*schema.RecordType
}

// New creates a registry holding types. It fails on duplicate names
// but does not check references; call Validate for that.
func New(types ...*schema.RecordType) (*Registry, error) {
	r := &Registry{types: make(map[string]*schema.RecordType)}
	for _, rt := range types {
		if err := r.Register(rt); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a record type. Returns an error if the name is taken.
func (r *Registry) Register(rt *schema.RecordType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[rt.Name()]; exists {
		return fmt.Errorf("record type %q already registered", rt.Name())
	}
	r.types[rt.Name()] = rt
	return nil
}

// Unregister removes a record type.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	delete(r.types, name)
	return nil
}

// Replace swaps the whole set of types. The new set is checked for
// duplicates and dangling references first; on error the registry is
// unchanged.
func (r *Registry) Replace(types []*schema.RecordType) error {
	next, err := New(types...)
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.types = next.types
	r.mu.Unlock()
	return nil
}

// Get returns a registered record type by name.
func (r *Registry) Get(name string) (*schema.RecordType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.types[name]
	return rt, ok
}

// List returns all registered types sorted by name.
func (r *Registry) List() []*schema.RecordType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]*schema.RecordType, 0, len(r.types))
	for _, rt := range r.types {
		types = append(types, rt)
	}

	// Sort by name for consistent ordering
	sort.Slice(types, func(i, j int) bool {
		return types[i].Name() < types[j].Name()
	})

	return types
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Validate checks that every reference field targets a registered type.
func (r *Registry) Validate() error {
	var dangling []DanglingReference
	for _, rt := range r.List() {
		for _, f := range rt.References() {
			if _, ok := r.Get(f.To); !ok {
				dangling = append(dangling, DanglingReference{Type: rt.Name(), Field: f.Name, Target: f.To})
			}
		}
	}
	if len(dangling) > 0 {
		return &ReferenceError{References: dangling}
	}
	return nil
}

// Manager returns a manager for the named type.
func (r *Registry) Manager(name string, store ports.Store, opts ...manager.Option) (manager.Manager, error) {
	rt, ok := r.Get(name)
	if !ok {
		return manager.Manager{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return manager.New(rt, store, opts...), nil
}

// Resolver returns a serializer.Resolver that loads referenced records
// from store.
func (r *Registry) Resolver(store ports.Getter) serializer.Resolver {
	return resolver{reg: r, store: store}
}

type resolver struct {
	reg   *Registry
	store ports.Getter
}

func (res resolver) Resolve(ctx context.Context, typeName, id string) (*schema.RecordType, schema.Record, error) {
	rt, ok := res.reg.Get(typeName)
	if !ok {
		return nil, schema.Record{}, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	rec, err := res.store.Get(ctx, rt, id)
	if err != nil {
		return nil, schema.Record{}, fmt.Errorf("resolve %s %s: %w", typeName, id, err)
	}
	return rt, rec, nil
}

// DanglingReference is a reference field whose target is not registered.
type DanglingReference struct {
	Type   string
	Field  string
	Target string
}

func (d DanglingReference) String() string {
	return fmt.Sprintf("%s.%s references unknown type %q", d.Type, d.Field, d.Target)
}

// ReferenceError reports every dangling reference.
type ReferenceError struct {
	References []DanglingReference
}

// Error returns the reference error message.
func (e *ReferenceError) Error() string {
	msgs := make([]string, 0, len(e.References))
	for _, d := range e.References {
		msgs = append(msgs, d.String())
	}
	return fmt.Sprintf("dangling references detected:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Is makes errors.Is(err, ErrUnknownType) hold.
func (e *ReferenceError) Is(target error) bool { return target == ErrUnknownType }
