package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DepositRequest credits an account from one of its own cards.
type DepositRequest struct {
	AccountID      int64
	Principal      string
	CardID         int64
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

type DepositResult struct {
	TransactionID int64
	AccountID     int64
	CardID        int64
	Amount        decimal.Decimal
	Description   string
	Balance       decimal.Decimal
	CreatedAt     time.Time
	Replayed      bool
}

// Deposit posts a single DEPOSIT entry funded by an active card.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	if err := validAmount(req.Amount); err != nil {
		return DepositResult{}, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)

	var (
		res    DepositResult
		posted []Transaction
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		posted = nil
		acc, err := tx.AccountByID(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if err := checkOwner(acc, req.Principal); err != nil {
			return err
		}

		prior, ok, err := replay(ctx, tx, acc.ID, key, func(t Transaction) bool {
			return t.Type == TypeDeposit && t.Amount.Equal(req.Amount) && t.CardID == req.CardID
		})
		if err != nil {
			return err
		}
		if ok {
			res = depositResult(prior, true)
			return nil
		}

		card, err := tx.Card(ctx, acc.ID, req.CardID)
		if err != nil {
			return err
		}
		if card.Status != CardActive {
			return invalidOperation(fmt.Sprintf("card is %s", card.Status))
		}
		if card.ExpiredAt(s.now()) {
			return invalidOperation("card is expired")
		}

		desc := strings.TrimSpace(req.Description)
		if desc == "" {
			desc = depositNarrative(card)
		}
		posted, err = post(ctx, tx, s.now, entry{
			AccountID:      acc.ID,
			Type:           TypeDeposit,
			Amount:         req.Amount,
			Description:    desc,
			CardID:         card.ID,
			IdempotencyKey: key,
		})
		if err != nil {
			return err
		}
		res = depositResult(posted[0], false)
		return nil
	})
	s.observe("deposit", err)
	if err != nil {
		return DepositResult{}, err
	}
	s.publish(posted...)
	return res, nil
}

func depositResult(t Transaction, replayed bool) DepositResult {
	return DepositResult{
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		CardID:        t.CardID,
		Amount:        t.Amount,
		Description:   t.Description,
		Balance:       t.BalanceAfter,
		CreatedAt:     t.CreatedAt,
		Replayed:      replayed,
	}
}
