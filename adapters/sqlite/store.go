package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/artpar/querykit/adapters/clock"
	"github.com/artpar/querykit/adapters/idgen"
	"github.com/artpar/querykit/core/query"
	"github.com/artpar/querykit/core/schema"
	"github.com/artpar/querykit/ports"
)

// Store implements ports.Store, ports.Counter and ports.Getter on SQLite.
type Store struct {
	db     *DB
	ids    ports.IDGenerator
	clock  ports.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	migrated map[string]bool
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

// WithLogger sets the logger for statements and migrations.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a store on db. Tables are created on first use, or
// eagerly with Migrate.
func NewStore(db *DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		ids:      idgen.UUID{},
		clock:    clock.Real{},
		logger:   zerolog.Nop(),
		migrated: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert stores a new record.
func (s *Store) Insert(ctx context.Context, rt *schema.RecordType, values schema.Values) (schema.Record, error) {
	if err := s.migrate(ctx, rt); err != nil {
		return schema.Record{}, err
	}

	id := s.ids.New()
	now := s.clock.Now().UTC()

	set := map[string]any{
		quote(schema.FieldID):        id,
		quote(schema.FieldCreatedAt): now,
		quote(schema.FieldUpdatedAt): now,
	}
	for name, v := range values {
		if _, ok := rt.Field(name); ok {
			set[quote(name)] = columnValue(v)
		}
	}

	stmt, args, err := sq.Insert(quote(rt.Name())).SetMap(set).ToSql()
	if err != nil {
		return schema.Record{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return schema.Record{}, writeError(rt, err)
	}

	return schema.NewRecord(rt.Name(), id, values).Stamped(now, now), nil
}

// Update merges values into record id. Fields absent from values keep
// their stored value.
func (s *Store) Update(ctx context.Context, rt *schema.RecordType, id string, values schema.Values) (schema.Record, error) {
	if err := s.migrate(ctx, rt); err != nil {
		return schema.Record{}, err
	}

	b := sq.Update(quote(rt.Name())).
		Set(quote(schema.FieldUpdatedAt), s.clock.Now().UTC()).
		Where(sq.Eq{quote(schema.FieldID): id})
	for _, f := range rt.Fields() {
		if v, ok := values[f.Name]; ok {
			b = b.Set(quote(f.Name), columnValue(v))
		}
	}

	stmt, args, err := b.ToSql()
	if err != nil {
		return schema.Record{}, fmt.Errorf("build update: %w", err)
	}
	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return schema.Record{}, writeError(rt, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return schema.Record{}, err
	}
	if rows == 0 {
		return schema.Record{}, ports.ErrNotFound
	}

	return s.Get(ctx, rt, id)
}

// Get retrieves a record by identity.
func (s *Store) Get(ctx context.Context, rt *schema.RecordType, id string) (schema.Record, error) {
	if err := s.migrate(ctx, rt); err != nil {
		return schema.Record{}, err
	}

	stmt, args, err := selectColumns(rt).
		Where(sq.Eq{quote(schema.FieldID): id}).
		ToSql()
	if err != nil {
		return schema.Record{}, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return schema.Record{}, err
	}
	cur := &cursor{rt: rt, rows: rows}
	defer cur.Close()

	if !cur.Next() {
		if err := cur.Err(); err != nil {
			return schema.Record{}, err
		}
		return schema.Record{}, ports.ErrNotFound
	}
	return cur.Record(), nil
}

// Query runs spec and streams the matching rows.
func (s *Store) Query(ctx context.Context, spec query.Spec) (ports.Cursor, error) {
	rt := spec.Type()
	if err := s.migrate(ctx, rt); err != nil {
		return nil, err
	}

	b, err := selectSpec(spec)
	if err != nil {
		return nil, err
	}
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	s.logger.Debug().Str("sql", stmt).Int("args", len(args)).Msg("query")

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	cur := &cursor{rt: rt, rows: rows}
	if s.db.single {
		return drain(cur)
	}
	return cur, nil
}

// drain reads every row of cur and releases its connection.
func drain(cur *cursor) (ports.Cursor, error) {
	defer cur.Close()
	var records []schema.Record
	for cur.Next() {
		records = append(records, cur.Record())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return ports.NewSliceCursor(records), nil
}

// Count counts matching rows, honoring the limit.
func (s *Store) Count(ctx context.Context, spec query.Spec) (int64, error) {
	if err := s.migrate(ctx, spec.Type()); err != nil {
		return 0, err
	}

	inner, err := selectSpec(spec)
	if err != nil {
		return 0, err
	}
	stmt, args, err := sq.Select("COUNT(*)").
		FromSelect(inner.RemoveColumns().Columns(quote(schema.FieldID)), "matched").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func selectColumns(rt *schema.RecordType) sq.SelectBuilder {
	cols := []string{quote(schema.FieldID), quote(schema.FieldCreatedAt), quote(schema.FieldUpdatedAt)}
	for _, f := range rt.Fields() {
		cols = append(cols, quote(f.Name))
	}
	return sq.Select(cols...).From(quote(rt.Name()))
}

// selectSpec builds the full select for spec. Identity is the final
// sort key so results are deterministic.
func selectSpec(spec query.Spec) (sq.SelectBuilder, error) {
	rt := spec.Type()
	b := selectColumns(rt)

	if p := spec.Where(); p != nil {
		cond, err := where(p)
		if err != nil {
			return b, err
		}
		b = b.Where(cond)
	}

	for _, o := range spec.Order() {
		b = b.OrderBy(orderExpr(rt, o))
	}
	b = b.OrderBy(quote(schema.FieldID) + " ASC")

	if limit, ok := spec.Limit(); ok {
		b = b.Limit(uint64(limit))
	}
	return b, nil
}

// columnValue converts a value to its stored representation.
func columnValue(v schema.Value) any {
	if v.IsNull() {
		return nil
	}
	if v.Kind() == schema.KindDecimal {
		return v.Decimal().String()
	}
	return v.Interface()
}

// writeError maps constraint violations to ports.ConflictError.
func writeError(rt *schema.RecordType, err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique:
		return &ports.ConflictError{Type: rt.Name(), Field: conflictField(se.Error()), Err: err}
	case sqlite3.ErrConstraintPrimaryKey:
		return &ports.ConflictError{Type: rt.Name(), Field: schema.FieldID, Err: err}
	}
	return err
}

// conflictField extracts the column from "UNIQUE constraint failed: user.email".
func conflictField(msg string) string {
	_, cols, ok := strings.Cut(msg, "failed: ")
	if !ok {
		return ""
	}
	first, _, _ := strings.Cut(cols, ",")
	if _, col, ok := strings.Cut(first, "."); ok {
		return strings.TrimSpace(col)
	}
	return strings.TrimSpace(first)
}

// cursor decodes rows of one record type.
type cursor struct {
	rt   *schema.RecordType
	rows *sql.Rows
	rec  schema.Record
	err  error
}

func (c *cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	rec, err := decode(c.rt, c.rows)
	if err != nil {
		c.err = err
		return false
	}
	c.rec = rec
	return true
}

func (c *cursor) Record() schema.Record { return c.rec }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *cursor) Close() error { return c.rows.Close() }

func decode(rt *schema.RecordType, rows *sql.Rows) (schema.Record, error) {
	fields := rt.Fields()
	var (
		id               string
		created, updated time.Time
	)
	raw := make([]any, len(fields))
	dest := []any{&id, &created, &updated}
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return schema.Record{}, fmt.Errorf("scan %s: %w", rt.Name(), err)
	}

	values := make(schema.Values, len(fields))
	for i, f := range fields {
		v, err := fieldValue(f.Kind, raw[i])
		if err != nil {
			return schema.Record{}, fmt.Errorf("decode %s.%s: %w", rt.Name(), f.Name, err)
		}
		values[f.Name] = v
	}
	return schema.NewRecord(rt.Name(), id, values).Stamped(created.UTC(), updated.UTC()), nil
}

func fieldValue(k schema.Kind, raw any) (schema.Value, error) {
	if raw == nil {
		return schema.Null(k), nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch k {
	case schema.KindInteger:
		n, ok := raw.(int64)
		if !ok {
			return schema.Value{}, fmt.Errorf("want integer, got %T", raw)
		}
		return schema.IntValue(n), nil
	case schema.KindBoolean:
		n, ok := raw.(int64)
		if !ok {
			return schema.Value{}, fmt.Errorf("want integer, got %T", raw)
		}
		return schema.BoolValue(n != 0), nil
	case schema.KindDecimal:
		var d decimal.Decimal
		var err error
		switch x := raw.(type) {
		case string:
			d, err = decimal.NewFromString(x)
		case float64:
			d = decimal.NewFromFloat(x)
		case int64:
			d = decimal.NewFromInt(x)
		default:
			err = fmt.Errorf("want decimal text, got %T", raw)
		}
		if err != nil {
			return schema.Value{}, err
		}
		return schema.DecimalValue(d), nil
	default:
		s, ok := raw.(string)
		if !ok {
			return schema.Value{}, fmt.Errorf("want text, got %T", raw)
		}
		return schema.StringValue(k, s), nil
	}
}

var (
	_ ports.Store   = (*Store)(nil)
	_ ports.Counter = (*Store)(nil)
	_ ports.Getter  = (*Store)(nil)
)
