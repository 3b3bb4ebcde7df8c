// Package formatter renders serialized records and errors for the CLI.
// Built-in formats are table, json, yaml and jsonapi; each registers
// itself with DefaultRegistry.
package formatter

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/artpar/querykit/core/schema"
)

// Formatter converts structured data to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// FormatList formats a list of serialized records.
	FormatList(w io.Writer, rt *schema.RecordType, records []map[string]any, opts FormatOptions) error

	// FormatRecord formats a single serialized record.
	FormatRecord(w io.Writer, rt *schema.RecordType, record map[string]any, opts FormatOptions) error

	// FormatError formats an error.
	FormatError(w io.Writer, err error) error
}

// FormatOptions configures formatting behavior.
type FormatOptions struct {
	// Columns specifies which fields to include (nil = all external fields).
	Columns []string

	// NoHeader disables header row for tabular formats.
	NoHeader bool

	// Compact minimizes whitespace (for json/yaml).
	Compact bool

	// MaxWidth truncates long values (0 = no limit).
	MaxWidth int
}

// ErrUnknownFormat is returned by Lookup for an unregistered name.
var ErrUnknownFormat = errors.New("unknown output format")

// Registry holds formatters by name.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
}

// NewRegistry creates an empty formatter registry.
func NewRegistry() *Registry {
	return &Registry{formatters: make(map[string]Formatter)}
}

// Register adds f. Names are unique.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}
	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name.
func (r *Registry) Get(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formatters[name]
	return f, ok
}

// Lookup is Get with an error naming the registered formats.
func (r *Registry) Lookup(name string) (Formatter, error) {
	if f, ok := r.Get(name); ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownFormat, name, strings.Join(r.List(), ", "))
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(f Formatter) error { return DefaultRegistry.Register(f) }

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, bool) { return DefaultRegistry.Get(name) }

// Lookup returns a formatter from the default registry or ErrUnknownFormat.
func Lookup(name string) (Formatter, error) { return DefaultRegistry.Lookup(name) }

// List returns all formatter names from the default registry.
func List() []string { return DefaultRegistry.List() }

// Columns returns the external columns of rt in display order: the
// identity, the non-internal fields, then the timestamps.
func Columns(rt *schema.RecordType) []string {
	cols := []string{schema.FieldID}
	for _, f := range rt.Fields() {
		if !f.IsInternal() {
			cols = append(cols, f.Name)
		}
	}
	return append(cols, schema.FieldCreatedAt, schema.FieldUpdatedAt)
}

// project keeps only the requested columns. With no columns the record
// is returned without internal fields.
func project(rt *schema.RecordType, record map[string]any, columns []string) map[string]any {
	result := make(map[string]any)
	if len(columns) == 0 {
		for k, v := range record {
			if f, ok := rt.Field(k); ok && f.IsInternal() {
				continue
			}
			result[k] = v
		}
		return result
	}
	for _, col := range columns {
		if val, ok := record[col]; ok {
			result[col] = val
		}
	}
	return result
}

func projectAll(rt *schema.RecordType, records []map[string]any, columns []string) []map[string]any {
	result := make([]map[string]any, len(records))
	for i, record := range records {
		result[i] = project(rt, record, columns)
	}
	return result
}

// errorDocument is the structured form of an error for json and yaml.
func errorDocument(err error) map[string]any {
	output := map[string]any{
		"error": err.Error(),
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		output["fields"] = ve.Errors
	}
	return output
}
