package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"dmh.org/accounts/internal/ledger"
	"dmh.org/accounts/internal/obs"
)

// Store is a ledger.Store backed by a *sql.DB.
type Store struct {
	db *sql.DB
	d  Dialect
	reader

	writeMu sync.Mutex
}

var _ ledger.Store = (*Store)(nil)

// New wraps db. The schema must already exist.
func New(db *sql.DB, d Dialect) *Store {
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 1
	}
	return &Store{db: db, d: d, reader: reader{q: db, d: d}}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithTx runs fn in a database transaction. Transient conflicts reported by
// the dialect rerun fn from scratch on a fresh transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if s.d.SerializeWrites {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	var err error
	for attempt := 1; attempt <= s.d.MaxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !s.d.retryable(err) {
			return err
		}
		obs.Log("warn", "unit of work conflict, retrying", map[string]any{
			"driver":  s.d.Name,
			"attempt": attempt,
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return fmt.Errorf("unit of work gave up after %d attempts: %w", s.d.MaxAttempts, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.d.TxOptions)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&txStore{reader: reader{q: sqlTx, d: s.d}, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 2 * time.Millisecond
	if d > 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}
