// Package pg opens the PostgreSQL-backed ledger store.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dmh.org/accounts/internal/store/sqlstore"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Dialect runs every unit of work at serializable isolation, takes row locks
// with FOR UPDATE and retries serialization failures and deadlocks.
var Dialect = sqlstore.Dialect{
	Name:            "postgres",
	Numbered:        true,
	LockSuffix:      " FOR UPDATE",
	TxOptions:       &sql.TxOptions{Isolation: sql.LevelSerializable},
	MaxAttempts:     8,
	Retryable:       retryable,
	UniqueViolation: uniqueViolation,
}

// Open connects to dsn through the pgx stdlib driver.
func Open(dsn string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return sqlstore.New(db, Dialect), nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
