package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/querykit/core/schema"
)

// columnType maps a field kind to its SQLite storage class.
// Decimals are stored as text so no precision is lost at rest.
func columnType(k schema.Kind) string {
	switch k {
	case schema.KindInteger, schema.KindBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// createTable returns the DDL for a record type. Uniqueness is enforced
// by separate indexes so columns added later can carry it as well.
func createTable(rt *schema.RecordType) []string {
	cols := []string{
		quote(schema.FieldID) + " TEXT PRIMARY KEY",
		quote(schema.FieldCreatedAt) + " DATETIME NOT NULL",
		quote(schema.FieldUpdatedAt) + " DATETIME NOT NULL",
	}
	for _, f := range rt.Fields() {
		col := quote(f.Name) + " " + columnType(f.Kind)
		if f.Required {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(rt.Name()), strings.Join(cols, ",\n\t")),
	}
	return append(stmts, indexes(rt)...)
}

func indexes(rt *schema.RecordType) []string {
	var stmts []string
	for _, f := range rt.Fields() {
		switch {
		case f.Unique:
			stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote("ux_"+rt.Name()+"_"+f.Name), quote(rt.Name()), quote(f.Name)))
		case f.Kind == schema.KindReference:
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote("ix_"+rt.Name()+"_"+f.Name), quote(rt.Name()), quote(f.Name)))
		}
	}
	return stmts
}

// Migrate creates the table for each record type, or adds the columns a
// type declares that an existing table lacks. Columns are never dropped
// or retyped. Added columns are nullable even for required fields since
// existing rows have no value.
func (s *Store) Migrate(ctx context.Context, types ...*schema.RecordType) error {
	for _, rt := range types {
		if err := s.migrate(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context, rt *schema.RecordType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated[rt.Name()] {
		return nil
	}

	existing, err := s.columns(ctx, rt.Name())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	var stmts []string
	if len(existing) == 0 {
		stmts = createTable(rt)
	} else {
		for _, f := range rt.Fields() {
			if !existing[f.Name] {
				stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
					quote(rt.Name()), quote(f.Name), columnType(f.Kind)))
			}
		}
		stmts = append(stmts, indexes(rt)...)
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate %s: %w", rt.Name(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", rt.Name(), err)
	}

	s.migrated[rt.Name()] = true
	s.logger.Debug().Str("type", rt.Name()).Int("statements", len(stmts)).Msg("table migrated")
	return nil
}

// columns lists the column names of a table; an empty set means the
// table does not exist.
func (s *Store) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
