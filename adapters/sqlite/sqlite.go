// Package sqlite provides a SQLite implementation of the record store.
// Each record type maps to one table whose columns follow the type's
// fields; queries are translated to SQL with squirrel.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// driverName is the sqlite3 driver registered with the fold function
// and the decimal collation.
const driverName = "sqlite3_querykit"

// decimalCollation orders decimal text by numeric value.
const decimalCollation = "querykit_decimal"

var registerOnce sync.Once

// register installs a driver whose connections carry querykit_fold,
// the Unicode-aware lowercase used by icontains (SQLite's LOWER only
// folds ASCII), and the querykit_decimal collation, which compares
// decimal columns exactly.
func register() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterFunc("querykit_fold", strings.ToLower, true); err != nil {
					return err
				}
				return conn.RegisterCollation(decimalCollation, compareDecimalText)
			},
		})
	})
}

// compareDecimalText compares two stored decimals. Text that does not
// parse sorts by bytes after every decimal.
func compareDecimalText(a, b string) int {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	switch {
	case errA == nil && errB == nil:
		return da.Cmp(db)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// DB wraps a SQLite database connection.
type DB struct {
	*sql.DB

	// single is set for ":memory:", where the pool holds one connection.
	// Queries then read their rows eagerly so an open cursor never pins
	// the connection.
	single bool
}

// Open creates a new SQLite database connection.
// The path ":memory:" opens a private in-memory database.
func Open(path string) (*DB, error) {
	register()

	memory := path == ":memory:"
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if memory {
		dsn = "file::memory:?_busy_timeout=5000"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return &DB{DB: db, single: memory}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
