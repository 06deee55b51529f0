// Package sqlstore implements ledger.Store on top of database/sql. Driver
// packages supply a Dialect describing placeholders, locking and error codes.
package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"

	"dmh.org/accounts/internal/ledger"
)

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
	// LockSuffix is appended to the account read that takes a row lock.
	LockSuffix string
	// TxOptions is passed to BeginTx for every unit of work.
	TxOptions *sql.TxOptions
	// SerializeWrites runs one unit of work at a time inside this process.
	SerializeWrites bool
	// MaxAttempts bounds how often a unit of work runs when Retryable
	// reports a transient conflict.
	MaxAttempts int
	Retryable   func(error) bool
	// UniqueViolation reports whether err is a unique constraint failure and
	// returns the engine's description of the violated key.
	UniqueViolation func(error) (key string, ok bool)
}

// Rebind rewrites "?" placeholders to the dialect's style.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// mapUnique converts a unique violation into the matching domain error.
func (d Dialect) mapUnique(err error) error {
	if err == nil || d.UniqueViolation == nil {
		return err
	}
	key, ok := d.UniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(key, "idempotency"):
		return ledger.ErrIdempotencyKeyUse
	case strings.Contains(key, "owner_id"):
		return ledger.ErrAccountExists
	case strings.Contains(key, "routing_code"):
		return ledger.ErrRoutingCodeInUse
	case strings.Contains(key, "alias"):
		return ledger.ErrAliasInUse
	}
	return err
}

func (d Dialect) retryable(err error) bool {
	return d.Retryable != nil && d.Retryable(err)
}
