// Package manager provides the query manager: the single entry point for
// building lazy queries against one record type and for writing records
// through the validation pipeline.
//
// Chaining methods (Filter, Exclude, OrderBy, Limit) are pure: each
// returns a new Manager and never calls the store. Only All, First, Get,
// Count, Exists, Create, Update and Patch reach the store.
package manager

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/artpar/querykit/core/events"
	"github.com/artpar/querykit/core/query"
	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/core/serializer"
	"github.com/artpar/querykit/core/validation"
	"github.com/artpar/querykit/ports"
)

// Manager queries and writes records of one type. It is an immutable
// value and is safe to share across goroutines.
type Manager struct {
	rt    *schema.RecordType
	store ports.Store
	spec  query.Spec
	err   error
	cfg   *settings
}

// New creates a manager for rt backed by store.
func New(rt *schema.RecordType, store ports.Store, opts ...Option) Manager {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.logger = cfg.logger.With().Str("type", rt.Name()).Logger()

	return Manager{
		rt:    rt,
		store: store,
		spec:  query.NewSpec(rt),
		cfg:   cfg,
	}
}

// Type returns the record type.
func (m Manager) Type() *schema.RecordType { return m.rt }

// Spec returns the accumulated query.
func (m Manager) Spec() query.Spec { return m.spec }

// Err returns the first error recorded while chaining, if any.
// Every materialization returns it without touching the store.
func (m Manager) Err() error { return m.err }

// -----------------------------------------------------------------------------
// Chaining
// -----------------------------------------------------------------------------

// Filter narrows the query. Predicates are bound against the record
// type immediately; an unknown field, an operator the field's kind does
// not support, or an uncoercible value is recorded as the manager's error.
// Multiple predicates and multiple Filter calls combine with and.
func (m Manager) Filter(preds ...query.Predicate) Manager {
	if m.err != nil {
		return m
	}
	for _, p := range preds {
		bound, err := query.Bind(m.rt, p)
		if err != nil {
			m.err = err
			return m
		}
		m.spec = m.spec.WithWhere(bound)
	}
	return m
}

// Exclude removes records matching all of preds.
// Exclude(p) is Filter(query.Not(p)).
func (m Manager) Exclude(preds ...query.Predicate) Manager {
	switch len(preds) {
	case 0:
		return m
	case 1:
		return m.Filter(query.Not(preds[0]))
	default:
		return m.Filter(query.Not(query.And(preds...)))
	}
}

// OrderBy appends a sort key.
func (m Manager) OrderBy(field string, dir query.Direction) Manager {
	if m.err != nil {
		return m
	}
	o, err := query.BindOrdering(m.rt, query.Ordering{Field: field, Direction: dir})
	if err != nil {
		m.err = err
		return m
	}
	m.spec = m.spec.WithOrder(o)
	return m
}

// Limit caps the number of records returned.
func (m Manager) Limit(n int) Manager {
	if m.err != nil {
		return m
	}
	if n < 0 {
		m.err = fmt.Errorf("limit %d: %w", n, query.ErrInvalidValue)
		return m
	}
	m.spec = m.spec.WithLimit(n)
	return m
}

// -----------------------------------------------------------------------------
// Materialization
// -----------------------------------------------------------------------------

// All returns a lazy sequence of matching records. Each range over the
// sequence runs the query again. Breaking out of the loop closes the
// store cursor. A failure is yielded once as the final element.
func (m Manager) All(ctx context.Context) iter.Seq2[schema.Record, error] {
	return func(yield func(schema.Record, error) bool) {
		if m.err != nil {
			yield(schema.Record{}, m.err)
			return
		}

		start := time.Now()
		cur, err := m.store.Query(ctx, m.spec)
		if err != nil {
			err = m.storeError("query", err)
			m.observe("all", start, err)
			yield(schema.Record{}, err)
			return
		}
		defer cur.Close()

		n := 0
		for cur.Next() {
			n++
			if !yield(cur.Record(), nil) {
				m.observe("all", start, nil)
				return
			}
		}
		if err := cur.Err(); err != nil {
			err = m.storeError("query", err)
			m.observe("all", start, err)
			yield(schema.Record{}, err)
			return
		}

		m.cfg.logger.Debug().Int("records", n).Stringer("query", m.spec).Msg("query materialized")
		m.observe("all", start, nil)
	}
}

// First returns the first matching record, or ports.ErrNotFound.
func (m Manager) First(ctx context.Context) (schema.Record, error) {
	start := time.Now()
	records, err := m.fetch(ctx, capLimit(m.spec, 1))
	if err == nil && len(records) == 0 {
		err = m.notFound()
	}
	m.observe("first", start, err)
	if err != nil {
		return schema.Record{}, err
	}
	return records[0], nil
}

// Get returns the single record matching the query and preds. It fails
// with ErrMultipleResults when more than one record matches and with
// ports.ErrNotFound when none does. Any Limit is ignored: uniqueness is
// a property of the filter.
func (m Manager) Get(ctx context.Context, preds ...query.Predicate) (schema.Record, error) {
	start := time.Now()
	m = m.Filter(preds...)

	records, err := m.fetch(ctx, m.spec.WithLimit(2))
	switch {
	case err != nil:
	case len(records) == 0:
		err = m.notFound()
	case len(records) > 1:
		err = fmt.Errorf("%s where %s: %w", m.rt.Name(), whereString(m.spec), ErrMultipleResults)
	}
	m.observe("get", start, err)
	if err != nil {
		return schema.Record{}, err
	}
	return records[0], nil
}

// Count returns the number of matching records, honoring Limit.
func (m Manager) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := m.count(ctx)
	m.observe("count", start, err)
	return n, err
}

func (m Manager) count(ctx context.Context) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if counter, ok := m.store.(ports.Counter); ok {
		n, err := counter.Count(ctx, m.spec)
		if err != nil {
			return 0, m.storeError("count", err)
		}
		return n, nil
	}

	cur, err := m.store.Query(ctx, m.spec)
	if err != nil {
		return 0, m.storeError("count", err)
	}
	defer cur.Close()

	var n int64
	for cur.Next() {
		n++
	}
	if err := cur.Err(); err != nil {
		return 0, m.storeError("count", err)
	}
	return n, nil
}

// Exists reports whether any record matches.
func (m Manager) Exists(ctx context.Context) (bool, error) {
	start := time.Now()
	records, err := m.fetch(ctx, capLimit(m.spec, 1))
	m.observe("exists", start, err)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// fetch runs spec to completion.
func (m Manager) fetch(ctx context.Context, spec query.Spec) ([]schema.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	cur, err := m.store.Query(ctx, spec)
	if err != nil {
		return nil, m.storeError("query", err)
	}
	defer cur.Close()

	var records []schema.Record
	for cur.Next() {
		records = append(records, cur.Record())
	}
	if err := cur.Err(); err != nil {
		return nil, m.storeError("query", err)
	}
	return records, nil
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// Create validates and normalizes raw, hashes secret fields, and inserts
// a new record. Invalid input returns a *schema.ValidationError without
// any store interaction.
func (m Manager) Create(ctx context.Context, raw map[string]any) (schema.Record, error) {
	start := time.Now()
	rec, err := m.write(ctx, "", raw, false)
	m.observe("create", start, err)
	if err == nil {
		m.publish(ctx, "created", "create", rec)
	}
	return rec, err
}

// Update fully validates raw and replaces the fields of record id. The
// stored record ends up as a fresh Create of raw would: absent optional
// fields take their default or become null. It returns
// ports.ErrNotFound when id does not resolve.
func (m Manager) Update(ctx context.Context, id string, raw map[string]any) (schema.Record, error) {
	start := time.Now()
	rec, err := m.write(ctx, id, raw, false)
	m.observe("update", start, err)
	if err == nil {
		m.publish(ctx, "updated", "update", rec)
	}
	return rec, err
}

// Patch validates only the fields present in raw and merges them into
// record id.
func (m Manager) Patch(ctx context.Context, id string, raw map[string]any) (schema.Record, error) {
	start := time.Now()
	rec, err := m.write(ctx, id, raw, true)
	m.observe("patch", start, err)
	if err == nil {
		m.publish(ctx, "updated", "patch", rec)
	}
	return rec, err
}

// Validate runs the manager's validation pipeline without writing.
func (m Manager) Validate(raw map[string]any) schema.Result {
	return validation.Validate(m.rt, raw, m.validationOptions(false)...)
}

func (m Manager) validationOptions(partial bool) []validation.Option {
	var opts []validation.Option
	if m.cfg.strict {
		opts = append(opts, validation.Strict())
	}
	if partial {
		opts = append(opts, validation.Partial())
	}
	return opts
}

func (m Manager) write(ctx context.Context, id string, raw map[string]any, partial bool) (schema.Record, error) {
	result := validation.Validate(m.rt, raw, m.validationOptions(partial)...)
	if !result.IsValid() {
		ve := &schema.ValidationError{Type: m.rt.Name(), Errors: result.Errors()}
		for _, fe := range ve.Errors {
			m.cfg.observer.ObserveValidationFailure(m.rt.Name(), fe.Code)
		}
		m.cfg.logger.Debug().Int("errors", len(ve.Errors)).Msg("validation failed")
		return schema.Record{}, ve
	}

	values, err := m.hashSecrets(result.Values())
	if err != nil {
		return schema.Record{}, err
	}
	if id != "" && !partial {
		// Stores merge, so a replace must name every field.
		for _, f := range m.rt.Fields() {
			if _, ok := values[f.Name]; !ok {
				values[f.Name] = schema.Null(f.Kind)
			}
		}
	}

	var rec schema.Record
	if id == "" {
		rec, err = m.store.Insert(ctx, m.rt, values)
		if err != nil {
			return schema.Record{}, m.storeError("insert", err)
		}
	} else {
		rec, err = m.store.Update(ctx, m.rt, id, values)
		if err != nil {
			return schema.Record{}, m.storeError("update", err)
		}
	}
	return rec, nil
}

// hashSecrets replaces plaintext secret values with their hash.
func (m Manager) hashSecrets(values schema.Values) (schema.Values, error) {
	for _, f := range m.rt.Fields() {
		if f.Kind != schema.KindSecret {
			continue
		}
		v, ok := values[f.Name]
		if !ok || v.IsNull() {
			continue
		}
		if m.cfg.hasher == nil {
			return nil, fmt.Errorf("%s.%s: %w", m.rt.Name(), f.Name, ErrNoHasher)
		}
		hash, err := m.cfg.hasher.Hash(v.Str())
		if err != nil {
			return nil, fmt.Errorf("hash %s.%s: %w", m.rt.Name(), f.Name, err)
		}
		values[f.Name] = schema.StringValue(schema.KindSecret, string(hash))
	}
	return values, nil
}

func (m Manager) publish(ctx context.Context, suffix, action string, rec schema.Record) {
	name := m.rt.Name() + "." + suffix
	if m.cfg.bus == nil || !m.cfg.bus.HasSubscribers(name) {
		return
	}
	m.cfg.bus.Publish(ctx, events.Event{
		Name:     name,
		Type:     m.rt.Name(),
		Action:   action,
		RecordID: rec.ID,
		Data:     serializer.New(m.rt).Serialize(rec),
	})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (m Manager) notFound() error {
	return fmt.Errorf("%s where %s: %w", m.rt.Name(), whereString(m.spec), ports.ErrNotFound)
}

func (m Manager) storeError(op string, err error) error {
	m.cfg.logger.Warn().Err(err).Str("op", op).Msg("store operation failed")
	return fmt.Errorf("%s %s: %w", op, m.rt.Name(), err)
}

func (m Manager) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := Outcome(err)
	m.cfg.observer.ObserveOperation(m.rt.Name(), op, outcome, elapsed)
	m.cfg.logger.Debug().
		Str("op", op).
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Msg("operation complete")
}

// capLimit lowers the query limit to at most n.
func capLimit(spec query.Spec, n int) query.Spec {
	if limit, ok := spec.Limit(); ok && limit < n {
		return spec
	}
	return spec.WithLimit(n)
}

func whereString(spec query.Spec) string {
	if spec.Where() == nil {
		return "true"
	}
	return spec.Where().String()
}
