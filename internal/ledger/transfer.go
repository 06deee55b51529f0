package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest moves Amount from SourceAccountID to the account whose
// routing code or alias equals Destination.
type TransferRequest struct {
	SourceAccountID int64
	Principal       string
	Destination     string
	Amount          decimal.Decimal
	Description     string
	IdempotencyKey  string
}

// TransferResult reports the source side of a committed transfer.
type TransferResult struct {
	TransactionID   int64
	SourceAccountID int64
	Destination     string
	Amount          decimal.Decimal
	Description     string
	Balance         decimal.Decimal
	CreatedAt       time.Time
	Replayed        bool
}

// Transfer executes a double-entry transfer. Every check runs before any
// write, and both sides are posted in one unit of work.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := validAmount(req.Amount); err != nil {
		return TransferResult{}, err
	}
	dest := strings.TrimSpace(req.Destination)
	key := strings.TrimSpace(req.IdempotencyKey)

	var (
		res    TransferResult
		posted []Transaction
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		posted = nil
		src, err := tx.AccountByID(ctx, req.SourceAccountID)
		if err != nil {
			return err
		}
		if err := checkOwner(src, req.Principal); err != nil {
			return err
		}

		prior, ok, err := replay(ctx, tx, src.ID, key, func(t Transaction) bool {
			return t.Type == TypeTransferOut && t.Amount.Equal(req.Amount) && t.Counterparty == dest
		})
		if err != nil {
			return err
		}
		if ok {
			res = transferResult(prior, true)
			return nil
		}

		if req.Amount.GreaterThan(src.Balance) {
			return &InsufficientFundsError{AccountID: src.ID, Available: src.Balance, Requested: req.Amount}
		}
		if dest == "" {
			return invalidOperation("destination is required")
		}
		dst, err := tx.AccountByRoutingOrAlias(ctx, dest)
		if err != nil {
			return err
		}
		if dst.ID == src.ID {
			return invalidOperation("cannot transfer to the same account")
		}

		outDesc, inDesc := transferOutNarrative(dest), transferInNarrative(src.RoutingCode)
		if d := strings.TrimSpace(req.Description); d != "" {
			outDesc, inDesc = d, d
		}
		posted, err = post(ctx, tx, s.now,
			entry{
				AccountID:             src.ID,
				Type:                  TypeTransferOut,
				Amount:                req.Amount,
				Description:           outDesc,
				Counterparty:          dest,
				CounterpartyAccountID: dst.ID,
				IdempotencyKey:        key,
			},
			entry{
				AccountID:             dst.ID,
				Type:                  TypeTransferIn,
				Amount:                req.Amount,
				Description:           inDesc,
				Counterparty:          src.RoutingCode,
				CounterpartyAccountID: src.ID,
			},
		)
		if err != nil {
			return err
		}
		res = transferResult(posted[0], false)
		return nil
	})
	s.observe("transfer", err)
	if err != nil {
		return TransferResult{}, err
	}
	s.publish(posted...)
	return res, nil
}

func transferResult(out Transaction, replayed bool) TransferResult {
	return TransferResult{
		TransactionID:   out.ID,
		SourceAccountID: out.AccountID,
		Destination:     out.Counterparty,
		Amount:          out.Amount,
		Description:     out.Description,
		Balance:         out.BalanceAfter,
		CreatedAt:       out.CreatedAt,
		Replayed:        replayed,
	}
}
