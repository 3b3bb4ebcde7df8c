package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/artpar/querykit/adapters/hasher"
	"github.com/artpar/querykit/adapters/idgen"
	"github.com/artpar/querykit/adapters/memory"
	"github.com/artpar/querykit/adapters/sqlite"
	"github.com/artpar/querykit/core/events"
	"github.com/artpar/querykit/core/query"
	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/ports"
	"github.com/rs/zerolog"
)

// countingStore wraps a store and counts every call that reaches it.
type countingStore struct {
	inner ports.Store

	mu      sync.Mutex
	calls   map[string]int
	cursors []*trackedCursor
}

func newCountingStore() *countingStore {
	return &countingStore{
		inner: memory.New(memory.WithIDGenerator(idgen.NewSequential("r"))),
		calls: make(map[string]int),
	}
}

func (s *countingStore) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
}

func (s *countingStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *countingStore) Insert(ctx context.Context, rt *schema.RecordType, values schema.Values) (schema.Record, error) {
	s.record("insert")
	return s.inner.Insert(ctx, rt, values)
}

func (s *countingStore) Update(ctx context.Context, rt *schema.RecordType, id string, values schema.Values) (schema.Record, error) {
	s.record("update")
	return s.inner.Update(ctx, rt, id, values)
}

func (s *countingStore) Query(ctx context.Context, spec query.Spec) (ports.Cursor, error) {
	s.record("query")
	cur, err := s.inner.Query(ctx, spec)
	if err != nil {
		return nil, err
	}
	tc := &trackedCursor{Cursor: cur}
	s.mu.Lock()
	s.cursors = append(s.cursors, tc)
	s.mu.Unlock()
	return tc, nil
}

type trackedCursor struct {
	ports.Cursor
	closed bool
}

func (c *trackedCursor) Close() error {
	c.closed = true
	return c.Cursor.Close()
}

// failingStore fails every call.
type failingStore struct{ err error }

func (s failingStore) Insert(context.Context, *schema.RecordType, schema.Values) (schema.Record, error) {
	return schema.Record{}, s.err
}

func (s failingStore) Update(context.Context, *schema.RecordType, string, schema.Values) (schema.Record, error) {
	return schema.Record{}, s.err
}

func (s failingStore) Query(context.Context, query.Spec) (ports.Cursor, error) {
	return nil, s.err
}

// recordingObserver captures observer calls.
type recordingObserver struct {
	mu       sync.Mutex
	ops      []string
	failures []schema.Code
}

func (o *recordingObserver) ObserveOperation(typeName, op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op+":"+outcome)
}

func (o *recordingObserver) ObserveValidationFailure(_ string, code schema.Code) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, code)
}

var userType = schema.MustRecordType("user",
	schema.FieldSpec{Name: "name", Kind: schema.KindString, Required: true},
	schema.FieldSpec{Name: "email", Kind: schema.KindEmail, Required: true},
	schema.FieldSpec{Name: "age", Kind: schema.KindInteger},
	schema.FieldSpec{Name: "is_active", Kind: schema.KindBoolean, Default: true},
	schema.FieldSpec{Name: "password", Kind: schema.KindSecret},
)

func seed(t *testing.T, m Manager, rows ...map[string]any) {
	t.Helper()
	for _, row := range rows {
		if _, err := m.Create(context.Background(), row); err != nil {
			t.Fatalf("Create(%v) error = %v", row, err)
		}
	}
}

func str(t *testing.T, rec schema.Record, field string) string {
	t.Helper()
	v, ok := rec.Get(field)
	if !ok {
		t.Fatalf("record %s has no %s", rec.ID, field)
	}
	return v.Str()
}

func TestChainingNeverTouchesStore(t *testing.T) {
	store := newCountingStore()
	m := New(userType, store)

	chained := m.
		Filter(query.Eq("name", "Ann")).
		Exclude(query.Eq("email", "ann@example.com")).
		OrderBy("age", query.Desc).
		Limit(10).
		Filter(query.Contains("nowhere", "x")). // invalid, recorded not executed
		OrderBy("name", query.Asc)

	if n := store.total(); n != 0 {
		t.Fatalf("store calls after chaining = %d, want 0", n)
	}
	if chained.Err() == nil {
		t.Fatal("chained.Err() = nil, want unknown field error")
	}

	// A sticky error is returned by every materialization without a store call.
	ctx := context.Background()
	if _, err := chained.First(ctx); !errors.Is(err, query.ErrUnknownField) {
		t.Errorf("First error = %v, want ErrUnknownField", err)
	}
	if _, err := chained.Count(ctx); !errors.Is(err, query.ErrUnknownField) {
		t.Errorf("Count error = %v, want ErrUnknownField", err)
	}
	if _, err := chained.Exists(ctx); !errors.Is(err, query.ErrUnknownField) {
		t.Errorf("Exists error = %v, want ErrUnknownField", err)
	}
	for _, err := range chained.All(ctx) {
		if !errors.Is(err, query.ErrUnknownField) {
			t.Errorf("All error = %v, want ErrUnknownField", err)
		}
	}
	if n := store.total(); n != 0 {
		t.Errorf("store calls after failed materialization = %d, want 0", n)
	}
}

func TestChainingIsImmutable(t *testing.T) {
	store := newCountingStore()
	base := New(userType, store)
	seed(t, base,
		map[string]any{"name": "Ann", "email": "ann@example.com", "age": 30},
		map[string]any{"name": "Bob", "email": "bob@example.com", "age": 40},
	)
	ctx := context.Background()

	anns := base.Filter(query.Eq("name", "Ann"))
	bobs := base.Filter(query.Eq("name", "Bob"))

	if n, _ := base.Count(ctx); n != 2 {
		t.Errorf("base Count = %d, want 2", n)
	}
	if n, _ := anns.Count(ctx); n != 1 {
		t.Errorf("anns Count = %d, want 1", n)
	}
	if n, _ := bobs.Count(ctx); n != 1 {
		t.Errorf("bobs Count = %d, want 1", n)
	}

	bad := base.Filter(query.Gt("is_active", true))
	if bad.Err() == nil || base.Err() != nil {
		t.Errorf("error leaked: bad=%v base=%v", bad.Err(), base.Err())
	}
}

func TestCreateNormalizesEmail(t *testing.T) {
	store := newCountingStore()
	m := New(userType, store)

	rec, err := m.Create(context.Background(), map[string]any{"name": "Ann", "email": "Ann@Example.COM"})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if got := str(t, rec, "email"); got != "ann@example.com" {
		t.Errorf("email = %q, want %q", got, "ann@example.com")
	}
	if v, _ := rec.Get("is_active"); !v.Bool() {
		t.Error("is_active default should apply")
	}

	stored, err := m.Get(context.Background(), query.Eq("email", "ANN@example.com"))
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if stored.ID != rec.ID {
		t.Errorf("Get ID = %q, want %q", stored.ID, rec.ID)
	}
}

func TestCreateMissingName(t *testing.T) {
	store := newCountingStore()
	obs := &recordingObserver{}
	m := New(userType, store, WithObserver(obs))

	_, err := m.Create(context.Background(), map[string]any{"email": "x@y.com"})

	var ve *schema.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Create error = %v, want *schema.ValidationError", err)
	}
	if ve.Type != "user" {
		t.Errorf("ValidationError.Type = %q, want user", ve.Type)
	}
	if len(ve.Errors) != 1 || ve.Errors[0].Field != "name" || ve.Errors[0].Code != schema.CodeMissing {
		t.Errorf("errors = %v, want [{name missing}]", ve.Errors)
	}
	if n := store.total(); n != 0 {
		t.Errorf("store calls = %d, want 0", n)
	}
	if len(obs.failures) != 1 || obs.failures[0] != schema.CodeMissing {
		t.Errorf("observed failures = %v, want [missing]", obs.failures)
	}
	if len(obs.ops) != 1 || obs.ops[0] != "create:invalid" {
		t.Errorf("observed ops = %v, want [create:invalid]", obs.ops)
	}
}

func TestGetMultipleResults(t *testing.T) {
	m := New(userType, newCountingStore())
	seed(t, m,
		map[string]any{"name": "Ann", "email": "a1@example.com"},
		map[string]any{"name": "Ann", "email": "a2@example.com"},
	)

	tests := []struct {
		name string
		m    Manager
	}{
		{"unlimited", m.Filter(query.Eq("name", "Ann"))},
		{"limit 1", m.Filter(query.Eq("name", "Ann")).Limit(1)},
		{"limit 0", m.Limit(0).Filter(query.Eq("name", "Ann"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.m.Get(context.Background())
			if !errors.Is(err, ErrMultipleResults) {
				t.Errorf("Get error = %v, want ErrMultipleResults", err)
			}
			if errors.Is(err, ports.ErrNotFound) {
				t.Error("MultipleResults must not be NotFound")
			}
		})
	}
}

func TestFirstNotFound(t *testing.T) {
	m := New(userType, newCountingStore())
	seed(t, m, map[string]any{"name": "Ann", "email": "ann@example.com"})

	_, err := m.Filter(query.Eq("name", "Zed")).First(context.Background())
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("First error = %v, want ErrNotFound", err)
	}

	_, err = m.Get(context.Background(), query.Eq("name", "Zed"))
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestIContainsExcludeCount(t *testing.T) {
	m := New(userType, newCountingStore())
	seed(t, m,
		map[string]any{"name": "Ann", "email": "ann@example.com"},
		map[string]any{"name": "Anna", "email": "b@c.com"},
	)

	n, err := m.
		Filter(query.IContains("name", "an")).
		Exclude(query.Eq("email", "ann@example.com")).
		Count(context.Background())
	if err != nil {
		t.Fatalf("Count error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestAndChainOrderIndependent(t *testing.T) {
	m := New(userType, newCountingStore())
	seed(t, m,
		map[string]any{"name": "Ann", "email": "ann@example.com", "age": 30},
		map[string]any{"name": "Anna", "email": "anna@example.com", "age": 17},
		map[string]any{"name": "Bob", "email": "bob@example.com", "age": 40},
		map[string]any{"name": "Dan", "email": "dan@example.com", "age": 22},
	)
	ctx := context.Background()
	a := query.IContains("name", "an")
	b := query.Gte("age", 18)

	ids := func(m Manager) map[string]bool {
		out := make(map[string]bool)
		for rec, err := range m.All(ctx) {
			if err != nil {
				t.Fatalf("All error = %v", err)
			}
			out[rec.ID] = true
		}
		return out
	}

	ab := ids(m.Filter(a).Filter(b))
	ba := ids(m.Filter(b).Filter(a))
	single := ids(m.Filter(query.And(a, b)))
	variadic := ids(m.Filter(a, b))

	for _, got := range []map[string]bool{ba, single, variadic} {
		if len(got) != len(ab) {
			t.Fatalf("sets differ: %v vs %v", got, ab)
		}
		for id := range ab {
			if !got[id] {
				t.Errorf("sets differ: %v vs %v", got, ab)
			}
		}
	}
	if len(ab) != 2 {
		t.Errorf("matched %d records, want 2 (Ann, Dan)", len(ab))
	}
}

func TestAllIsLazyAndRestartable(t *testing.T) {
	store := newCountingStore()
	m := New(userType, store)
	seed(t, m,
		map[string]any{"name": "Ann", "email": "ann@example.com", "age": 30},
		map[string]any{"name": "Bob", "email": "bob@example.com", "age": 40},
		map[string]any{"name": "Cy", "email": "cy@example.com", "age": 50},
	)
	ctx := context.Background()

	seq := m.OrderBy("age", query.Asc).All(ctx)
	if store.calls["query"] != 0 {
		t.Fatal("All should not query until ranged over")
	}

	var names []string
	for rec, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, str(t, rec, "name"))
	}
	if len(names) != 3 || names[0] != "Ann" || names[2] != "Cy" {
		t.Errorf("names = %v, want [Ann Bob Cy]", names)
	}

	// Breaking early closes the cursor.
	for range seq {
		break
	}
	if store.calls["query"] != 2 {
		t.Errorf("query calls = %d, want 2", store.calls["query"])
	}
	for i, c := range store.cursors {
		if !c.closed {
			t.Errorf("cursor %d not closed", i)
		}
	}
}

func TestMaterializeWhileRangingSQLiteMemory(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := New(userType, sqlite.NewStore(db))
	seed(t, m,
		map[string]any{"name": "Ann", "email": "ann@example.com"},
		map[string]any{"name": "Bob", "email": "bob@example.com"},
	)

	done := make(chan error, 1)
	go func() {
		ctx := context.Background()
		for rec, err := range m.All(ctx) {
			if err != nil {
				done <- err
				return
			}
			if _, err := m.Count(ctx); err != nil {
				done <- err
				return
			}
			name, _ := rec.Get("name")
			if _, err := m.Get(ctx, query.Eq("name", name.Str())); err != nil {
				done <- err
				return
			}
			if _, err := m.Patch(ctx, rec.ID, map[string]any{"age": 1}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("nested materialization error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("nested materialization inside All did not return")
	}

	if n, _ := m.Filter(query.Eq("age", 1)).Count(context.Background()); n != 2 {
		t.Errorf("patched count = %d, want 2", n)
	}
}

func TestOrderAndLimit(t *testing.T) {
	m := New(userType, newCountingStore())
	seed(t, m,
		map[string]any{"name": "Ann", "email": "ann@example.com", "age": 30},
		map[string]any{"name": "Bob", "email": "bob@example.com", "age": 40},
		map[string]any{"name": "Cy", "email": "cy@example.com", "age": 50},
	)
	ctx := context.Background()

	oldest, err := m.OrderBy("age", query.Desc).First(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := str(t, oldest, "name"); got != "Cy" {
		t.Errorf("oldest = %q, want Cy", got)
	}

	if n, _ := m.Limit(2).Count(ctx); n != 2 {
		t.Errorf("Limit(2).Count = %d, want 2", n)
	}
	if ok, _ := m.Limit(0).Exists(ctx); ok {
		t.Error("Limit(0).Exists = true, want false")
	}
	if ok, _ := m.Filter(query.Gt("age", 45)).Exists(ctx); !ok {
		t.Error("Exists(age > 45) = false, want true")
	}
	if err := m.Limit(-1).Err(); !errors.Is(err, query.ErrInvalidValue) {
		t.Errorf("Limit(-1).Err() = %v, want ErrInvalidValue", err)
	}
	if err := m.OrderBy("nope", query.Asc).Err(); !errors.Is(err, query.ErrUnknownField) {
		t.Errorf("OrderBy(nope).Err() = %v, want ErrUnknownField", err)
	}
}

func TestUnsupportedOperatorAtFilterTime(t *testing.T) {
	store := newCountingStore()
	m := New(userType, store).Filter(query.Contains("age", "3"))

	if !errors.Is(m.Err(), query.ErrUnsupportedOperator) {
		t.Errorf("Err() = %v, want ErrUnsupportedOperator", m.Err())
	}
	if store.total() != 0 {
		t.Error("store should not be called")
	}
}

func TestUpdateAndPatch(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var got []events.Event
	bus.Subscribe("user.*", func(ctx context.Context, e events.Event) error {
		got = append(got, e)
		return nil
	})

	m := New(userType, newCountingStore(), WithEvents(bus))
	ctx := context.Background()

	rec, err := m.Create(ctx, map[string]any{"name": "Ann", "email": "ann@example.com", "age": 30})
	if err != nil {
		t.Fatal(err)
	}

	// Full update requires every required field.
	if _, err := m.Update(ctx, rec.ID, map[string]any{"age": 31}); err == nil {
		t.Error("Update without required fields should fail")
	}

	updated, err := m.Update(ctx, rec.ID, map[string]any{"name": "Ann B", "email": "ann@example.com", "age": 31})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if got := str(t, updated, "name"); got != "Ann B" {
		t.Errorf("name = %q, want Ann B", got)
	}

	patched, err := m.Patch(ctx, rec.ID, map[string]any{"age": "32"})
	if err != nil {
		t.Fatalf("Patch error = %v", err)
	}
	if v, _ := patched.Get("age"); v.Int() != 32 {
		t.Errorf("age = %d, want 32", v.Int())
	}
	if got := str(t, patched, "name"); got != "Ann B" {
		t.Errorf("name = %q, want Ann B (kept)", got)
	}

	if _, err := m.Update(ctx, "missing", map[string]any{"name": "X", "email": "x@y.com"}); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}

	want := []string{"user.created", "user.updated", "user.updated"}
	if len(got) != len(want) {
		t.Fatalf("events = %d, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Name != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, e.Name, want[i])
		}
	}
	if got[2].Action != "patch" || got[2].RecordID != rec.ID {
		t.Errorf("patch event = %+v", got[2])
	}
}

func TestUpdateReplacesAbsentFields(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stores := []struct {
		name  string
		store ports.Store
	}{
		{"memory", memory.New()},
		{"sqlite", sqlite.NewStore(db)},
	}

	for _, tt := range stores {
		t.Run(tt.name, func(t *testing.T) {
			m := New(userType, tt.store)
			ctx := context.Background()

			rec, err := m.Create(ctx, map[string]any{"name": "Ann", "email": "ann@example.com", "age": 30, "is_active": false})
			if err != nil {
				t.Fatal(err)
			}

			updated, err := m.Update(ctx, rec.ID, map[string]any{"name": "Ann", "email": "ann@example.com"})
			if err != nil {
				t.Fatalf("Update error = %v", err)
			}
			stored, err := m.Get(ctx, query.Eq("name", "Ann"))
			if err != nil {
				t.Fatalf("Get error = %v", err)
			}

			for _, r := range []schema.Record{updated, stored} {
				if v, _ := r.Get("age"); !v.IsNull() {
					t.Errorf("age = %v, want null", v)
				}
				if v, _ := r.Get("is_active"); v.IsNull() || !v.Bool() {
					t.Errorf("is_active = %v, want default true", v)
				}
			}
		})
	}
}

func TestSecretsAreHashed(t *testing.T) {
	m := New(userType, newCountingStore(), WithHasher(hasher.Fake{}))
	ctx := context.Background()

	rec, err := m.Create(ctx, map[string]any{"name": "Ann", "email": "ann@example.com", "password": "hunter22"})
	if err != nil {
		t.Fatal(err)
	}
	stored := str(t, rec, "password")
	if stored == "hunter22" {
		t.Error("password stored in plaintext")
	}
	if !(hasher.Fake{}).Compare([]byte(stored), "hunter22") {
		t.Error("stored hash does not verify")
	}

	noHasher := New(userType, newCountingStore())
	if _, err := noHasher.Create(ctx, map[string]any{"name": "A", "email": "a@b.com", "password": "x"}); !errors.Is(err, ErrNoHasher) {
		t.Errorf("Create without hasher error = %v, want ErrNoHasher", err)
	}
}

func TestStrictMode(t *testing.T) {
	m := New(userType, newCountingStore(), WithStrict(true))
	_, err := m.Create(context.Background(), map[string]any{"name": "A", "email": "a@b.com", "nickname": "x"})

	var ve *schema.ValidationError
	if !errors.As(err, &ve) || ve.Codes()["nickname"] != schema.CodeUnknown {
		t.Errorf("Create error = %v, want unknown nickname", err)
	}
}

func TestConflictPropagates(t *testing.T) {
	rt := schema.MustRecordType("account",
		schema.FieldSpec{Name: "email", Kind: schema.KindEmail, Required: true, Unique: true},
	)
	m := New(rt, memory.New())
	ctx := context.Background()

	if _, err := m.Create(ctx, map[string]any{"email": "a@b.com"}); err != nil {
		t.Fatal(err)
	}
	_, err := m.Create(ctx, map[string]any{"email": "A@B.com"})
	if !errors.Is(err, ports.ErrConflict) {
		t.Errorf("Create(dup) error = %v, want ErrConflict", err)
	}
	if Outcome(err) != OutcomeConflict {
		t.Errorf("Outcome = %q, want %q", Outcome(err), OutcomeConflict)
	}
}

func TestStoreErrorsPassThrough(t *testing.T) {
	boom := errors.New("disk on fire")
	m := New(userType, failingStore{err: boom})
	ctx := context.Background()

	if _, err := m.First(ctx); !errors.Is(err, boom) {
		t.Errorf("First error = %v, want %v", err, boom)
	}
	if _, err := m.Count(ctx); !errors.Is(err, boom) {
		t.Errorf("Count error = %v, want %v", err, boom)
	}
	if _, err := m.Create(ctx, map[string]any{"name": "A", "email": "a@b.com"}); !errors.Is(err, boom) {
		t.Errorf("Create error = %v, want %v", err, boom)
	}
	for _, err := range m.All(ctx) {
		if !errors.Is(err, boom) {
			t.Errorf("All error = %v, want %v", err, boom)
		}
	}
}

func TestCountWithoutCounter(t *testing.T) {
	// countingStore does not implement ports.Counter, so Count iterates.
	store := newCountingStore()
	m := New(userType, store)
	seed(t, m,
		map[string]any{"name": "Ann", "email": "ann@example.com"},
		map[string]any{"name": "Bob", "email": "bob@example.com"},
	)

	n, err := m.Count(context.Background())
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v, want 2", n, err)
	}
	if store.calls["query"] != 1 {
		t.Errorf("query calls = %d, want 1", store.calls["query"])
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{ports.ErrNotFound, OutcomeNotFound},
		{ErrMultipleResults, OutcomeMultiple},
		{&schema.ValidationError{}, OutcomeInvalid},
		{&query.BuildError{Err: query.ErrUnknownField}, OutcomeInvalidQuery},
		{&ports.ConflictError{}, OutcomeConflict},
		{errors.New("x"), OutcomeError},
	}

	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
