package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyExists     = errors.New("already exists")
	// ErrExhausted is an operational fault: identifier generation could not
	// find a free value within the configured attempts.
	ErrExhausted = errors.New("identifier space exhausted")
	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// for a request that differs from the one it first recorded.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")

	ErrAccountNotFound     = fmt.Errorf("account %w", ErrNotFound)
	ErrCardNotFound        = fmt.Errorf("card %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	ErrAccountExists     = fmt.Errorf("account %w for principal", ErrAlreadyExists)
	ErrAliasInUse        = fmt.Errorf("alias %w", ErrAlreadyExists)
	ErrRoutingCodeInUse  = fmt.Errorf("routing code %w", ErrAlreadyExists)
	ErrIdempotencyKeyUse = fmt.Errorf("idempotency key %w", ErrAlreadyExists)

	ErrInvalidAmount = fmt.Errorf("%w: amount must be greater than zero with at most 2 decimal places", ErrInvalidInput)
	ErrInvalidAlias  = fmt.Errorf("%w: alias must have the form word.word.word using a-z and 0-9", ErrInvalidInput)
)

// InsufficientFundsError carries the figures a caller needs to correct the
// request. It matches ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	AccountID int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

func invalidOperation(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, reason)
}
