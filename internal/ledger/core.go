package ledger

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// ApplyDelta adds delta to the balance of accountID inside tx and returns the
// new balance. A result below zero is rejected, never clamped.
func ApplyDelta(ctx context.Context, tx Tx, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	acc, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	next := acc.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Decimal{}, &InsufficientFundsError{
			AccountID: accountID,
			Available: acc.Balance,
			Requested: delta.Neg(),
		}
	}
	if err := tx.SetBalance(ctx, accountID, next); err != nil {
		return decimal.Decimal{}, err
	}
	return next, nil
}

// entry is one side of a movement waiting to be posted.
type entry struct {
	AccountID             int64
	Type                  TransactionType
	Amount                decimal.Decimal
	Description           string
	Counterparty          string
	CounterpartyAccountID int64
	CardID                int64
	IdempotencyKey        string
}

func (e entry) delta() decimal.Decimal {
	if e.Type.Credit() {
		return e.Amount
	}
	return e.Amount.Neg()
}

// post applies every entry to its account and appends the matching log
// record. Accounts are locked in ascending id order before anything is
// written so that concurrent posts touching the same pair cannot deadlock.
func post(ctx context.Context, tx Tx, now func() time.Time, entries ...entry) ([]Transaction, error) {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.AccountID)
	}
	slices.Sort(ids)
	for _, id := range slices.Compact(ids) {
		if _, err := tx.LockAccount(ctx, id); err != nil {
			return nil, err
		}
	}

	at := now().UTC()
	out := make([]Transaction, 0, len(entries))
	for _, e := range entries {
		balance, err := ApplyDelta(ctx, tx, e.AccountID, e.delta())
		if err != nil {
			return nil, err
		}
		rec, err := tx.AppendTransaction(ctx, Transaction{
			AccountID:             e.AccountID,
			Type:                  e.Type,
			Amount:                e.Amount,
			Description:           e.Description,
			Status:                StatusCompleted,
			Counterparty:          e.Counterparty,
			CounterpartyAccountID: e.CounterpartyAccountID,
			CardID:                e.CardID,
			IdempotencyKey:        e.IdempotencyKey,
			BalanceAfter:          balance,
			CreatedAt:             at,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// validAmount enforces a positive amount with cent precision.
func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}
