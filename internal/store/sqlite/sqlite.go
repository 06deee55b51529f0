// Package sqlite opens a SQLite-backed ledger store. The schema is embedded
// and applied on Open, so a fresh file or ":memory:" is ready to use.
//
// Balances and amounts are stored as TEXT so SQLite's numeric affinity never
// turns them into floating point. Writers are serialized inside the process
// and every transaction begins IMMEDIATE, which makes the read-modify-write
// of a balance safe without row locks.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"dmh.org/accounts/internal/store/sqlstore"
)

//go:embed schema.sql
var schema string

// Dialect is the sqlstore dialect for mattn/go-sqlite3.
var Dialect = sqlstore.Dialect{
	Name:            "sqlite",
	SerializeWrites: true,
	MaxAttempts:     5,
	Retryable:       retryable,
	UniqueViolation: uniqueViolation,
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	dsn := path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}

func retryable(err error) bool {
	var e sqlite3.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == sqlite3.ErrBusy || e.Code == sqlite3.ErrLocked
}

func uniqueViolation(err error) (string, bool) {
	var e sqlite3.Error
	if errors.As(err, &e) && e.ExtendedCode == sqlite3.ErrConstraintUnique {
		return e.Error(), true
	}
	return "", false
}
