package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"dmh.org/accounts/internal/obs"
)

// Reconciliation compares a stored balance with the sum of its log.
type Reconciliation struct {
	AccountID int64
	Balance   decimal.Decimal
	LedgerSum decimal.Decimal
	Entries   int
	Balanced  bool
}

// Reconcile recomputes the balance of an owned account from its COMPLETED
// entries. The account is locked while the log is read so the two figures
// describe the same point in time.
func (s *Service) Reconcile(ctx context.Context, accountID int64, principal string) (Reconciliation, error) {
	var rec Reconciliation
	err := s.store.WithTx(ctx, func(tx Tx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := checkOwner(acc, principal); err != nil {
			return err
		}
		txs, err := tx.Transactions(ctx, accountID, LogQuery{})
		if err != nil {
			return err
		}
		rec = ReconcileEntries(acc, txs)
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Balanced {
		obs.Log("error", "balance does not match ledger", map[string]any{
			"account_id": rec.AccountID,
			"balance":    rec.Balance.StringFixed(2),
			"ledger_sum": rec.LedgerSum.StringFixed(2),
		})
	}
	return rec, nil
}

// ReconcileEntries checks acc.Balance against txs without touching storage.
func ReconcileEntries(acc Account, txs []Transaction) Reconciliation {
	sum := decimal.Zero
	n := 0
	for _, t := range txs {
		if t.AccountID != acc.ID || t.Status != StatusCompleted {
			continue
		}
		sum = sum.Add(t.Signed())
		n++
	}
	return Reconciliation{
		AccountID: acc.ID,
		Balance:   acc.Balance,
		LedgerSum: sum,
		Entries:   n,
		Balanced:  sum.Equal(acc.Balance),
	}
}
