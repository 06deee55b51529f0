package ledgertest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmh.org/accounts/internal/ledger"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) ledger.Store

// Run exercises the behaviour every ledger.Store must provide through the
// Service that sits on top of it.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, h *Harness)
	}{
		{"TransferByAlias", transferByAlias},
		{"TransferOverBalance", transferOverBalance},
		{"TransferToOwnRoutingCode", transferToOwnRoutingCode},
		{"DepositFromBlockedCard", depositFromBlockedCard},
		{"FailedValidationLeavesNoTrace", failedValidationLeavesNoTrace},
		{"DoubleEntrySymmetry", doubleEntrySymmetry},
		{"ConcurrentDrain", concurrentDrain},
		{"ConcurrentOversubscription", concurrentOversubscription},
		{"ConcurrentOpposingTransfers", concurrentOpposingTransfers},
		{"IdempotentTransfer", idempotentTransfer},
		{"UniqueIdentifiers", uniqueIdentifiers},
		{"RollbackOnError", rollbackOnError},
		{"LogOrdering", logOrdering},
		{"Cards", cards},
		{"TransactionScopedToAccount", transactionScopedToAccount},
		{"DecimalPrecision", decimalPrecision},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, New(t, newStore(t)))
		})
	}
}

func transferByAlias(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "1000.00")
	b, _ := h.Open("user-b", "500.00")
	_, err := h.Service.UpdateAlias(h.Ctx, b.ID, "user-b", "sol.luna.estrella")
	require.NoError(t, err)
	beforeA, beforeB := len(h.Entries(a.ID)), len(h.Entries(b.ID))

	res, err := h.Service.Transfer(h.Ctx, ledger.TransferRequest{
		SourceAccountID: a.ID,
		Principal:       "user-a",
		Destination:     "sol.luna.estrella",
		Amount:          Dec(t, "100.00"),
	})
	require.NoError(t, err)

	assert.True(t, res.Balance.Equal(Dec(t, "900.00")), "result balance %s", res.Balance)
	assert.True(t, h.Balance(a.ID).Equal(Dec(t, "900.00")))
	assert.True(t, h.Balance(b.ID).Equal(Dec(t, "600.00")))

	outs, ins := h.Entries(a.ID), h.Entries(b.ID)
	require.Len(t, outs, beforeA+1)
	require.Len(t, ins, beforeB+1)
	assert.Equal(t, ledger.TypeTransferOut, outs[0].Type)
	assert.Equal(t, ledger.TypeTransferIn, ins[0].Type)
	assert.True(t, outs[0].Amount.Equal(Dec(t, "100.00")))
	assert.True(t, ins[0].Amount.Equal(Dec(t, "100.00")))
	assert.Equal(t, "Transfer to Alias: sol.luna.estrella", outs[0].Description)
	assert.Equal(t, "Transfer from "+a.RoutingCode, ins[0].Description)
	assert.Equal(t, res.TransactionID, outs[0].ID)
	h.RequireBalanced(a.ID, b.ID)
}

func transferOverBalance(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "1000.00")
	b, _ := h.Open("user-b", "0")
	beforeA, beforeB := len(h.Entries(a.ID)), len(h.Entries(b.ID))

	_, err := h.Service.Transfer(h.Ctx, ledger.TransferRequest{
		SourceAccountID: a.ID,
		Principal:       "user-a",
		Destination:     b.Alias,
		Amount:          Dec(t, "2000.00"),
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	var ife *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.True(t, ife.Available.Equal(Dec(t, "1000")))
	assert.True(t, ife.Requested.Equal(Dec(t, "2000")))

	assert.Len(t, h.Entries(a.ID), beforeA)
	assert.Len(t, h.Entries(b.ID), beforeB)
	assert.True(t, h.Balance(a.ID).Equal(Dec(t, "1000")))
	assert.True(t, h.Balance(b.ID).IsZero())
}

func transferToOwnRoutingCode(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "50")
	before := len(h.Entries(a.ID))

	_, err := h.Service.Transfer(h.Ctx, ledger.TransferRequest{
		SourceAccountID: a.ID,
		Principal:       "user-a",
		Destination:     a.RoutingCode,
		Amount:          Dec(t, "10"),
	})
	require.ErrorIs(t, err, ledger.ErrInvalidOperation)
	assert.Len(t, h.Entries(a.ID), before)
	assert.True(t, h.Balance(a.ID).Equal(Dec(t, "50")))
}

func depositFromBlockedCard(t *testing.T, h *Harness) {
	a, card := h.Open("user-a", "75.50")
	_, err := h.Service.BlockCard(h.Ctx, a.ID, card.ID, "user-a")
	require.NoError(t, err)
	before := len(h.Entries(a.ID))

	_, err = h.Service.Deposit(h.Ctx, ledger.DepositRequest{
		AccountID: a.ID,
		Principal: "user-a",
		CardID:    card.ID,
		Amount:    Dec(t, "10"),
	})
	require.ErrorIs(t, err, ledger.ErrInvalidOperation)
	assert.Contains(t, err.Error(), "BLOCKED")
	assert.True(t, h.Balance(a.ID).Equal(Dec(t, "75.50")))
	assert.Len(t, h.Entries(a.ID), before)
}

func failedValidationLeavesNoTrace(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "300")
	b, _ := h.Open("user-b", "20")
	beforeA, beforeB := len(h.Entries(a.ID)), len(h.Entries(b.ID))

	failures := []struct {
		req  ledger.TransferRequest
		want error
	}{
		{ledger.TransferRequest{SourceAccountID: a.ID + b.ID + 100, Principal: "user-a", Destination: b.Alias, Amount: Dec(t, "1")}, ledger.ErrNotFound},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-b", Destination: b.Alias, Amount: Dec(t, "1")}, ledger.ErrForbidden},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "", Destination: b.Alias, Amount: Dec(t, "1")}, ledger.ErrForbidden},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-a", Destination: b.Alias, Amount: Dec(t, "0")}, ledger.ErrInvalidInput},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-a", Destination: b.Alias, Amount: Dec(t, "-5")}, ledger.ErrInvalidInput},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-a", Destination: b.Alias, Amount: Dec(t, "1.005")}, ledger.ErrInvalidInput},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-a", Destination: "no.such.alias", Amount: Dec(t, "1")}, ledger.ErrNotFound},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-a", Destination: "  ", Amount: Dec(t, "1")}, ledger.ErrInvalidOperation},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-a", Destination: a.Alias, Amount: Dec(t, "1")}, ledger.ErrInvalidOperation},
		{ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-a", Destination: b.Alias, Amount: Dec(t, "300.01")}, ledger.ErrInsufficientFunds},
	}
	for i, f := range failures {
		_, err := h.Service.Transfer(h.Ctx, f.req)
		require.ErrorIsf(t, err, f.want, "case %d", i)
	}

	assert.Len(t, h.Entries(a.ID), beforeA)
	assert.Len(t, h.Entries(b.ID), beforeB)
	assert.True(t, h.Balance(a.ID).Equal(Dec(t, "300")))
	assert.True(t, h.Balance(b.ID).Equal(Dec(t, "20")))
}

func doubleEntrySymmetry(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "1000")
	b, _ := h.Open("user-b", "1000")
	c, _ := h.Open("user-c", "1000")
	accounts := []ledger.Account{a, b, c}
	owners := map[int64]string{a.ID: "user-a", b.ID: "user-b", c.ID: "user-c"}

	for i := range 12 {
		src := accounts[i%3]
		dst := accounts[(i+1)%3]
		dest := dst.Alias
		if i%2 == 0 {
			dest = dst.RoutingCode
		}
		_, err := h.Service.Transfer(h.Ctx, ledger.TransferRequest{
			SourceAccountID: src.ID,
			Principal:       owners[src.ID],
			Destination:     dest,
			Amount:          Dec(t, fmt.Sprintf("%d.25", 10+i)),
		})
		require.NoError(t, err)
	}

	ins := map[int64][]ledger.Transaction{}
	for _, acc := range accounts {
		for _, e := range h.Entries(acc.ID) {
			if e.Type == ledger.TypeTransferIn {
				ins[acc.ID] = append(ins[acc.ID], e)
			}
		}
	}
	outCount := 0
	for _, acc := range accounts {
		for _, out := range h.Entries(acc.ID) {
			if out.Type != ledger.TypeTransferOut {
				continue
			}
			outCount++
			matches := 0
			for _, in := range ins[out.CounterpartyAccountID] {
				if in.CounterpartyAccountID == acc.ID && in.Amount.Equal(out.Amount) && in.CreatedAt.Equal(out.CreatedAt) {
					matches++
				}
			}
			assert.Equalf(t, 1, matches, "TRANSFER_OUT %d", out.ID)
		}
	}
	inCount := 0
	for _, list := range ins {
		inCount += len(list)
	}
	assert.Equal(t, 12, outCount)
	assert.Equal(t, outCount, inCount)
	h.RequireBalanced(a.ID, b.ID, c.ID)
}

func concurrentDrain(t *testing.T, h *Harness) {
	amount := Dec(t, "7.50")
	for i, n := range []int{1, 4, 16, 48} {
		total := amount.Mul(decimal.NewFromInt(int64(n)))
		srcOwner := fmt.Sprintf("drain-src-%d", i)
		src, _ := h.Open(srcOwner, total.StringFixed(2))
		dst, _ := h.Open(fmt.Sprintf("drain-dst-%d", i), "0")

		ok := h.transferConcurrently(src.ID, srcOwner, dst.Alias, amount, n)
		assert.Equalf(t, int64(n), ok, "n=%d", n)
		assert.Truef(t, h.Balance(src.ID).IsZero(), "n=%d balance %s", n, h.Balance(src.ID))
		assert.True(t, h.Balance(dst.ID).Equal(total))
		h.RequireBalanced(src.ID, dst.ID)
	}
}

func concurrentOversubscription(t *testing.T, h *Harness) {
	src, _ := h.Open("over-src", "100")
	dst, _ := h.Open("over-dst", "0")

	ok := h.transferConcurrently(src.ID, "over-src", dst.RoutingCode, Dec(t, "10"), 25)
	assert.Equal(t, int64(10), ok)
	assert.True(t, h.Balance(src.ID).IsZero())
	assert.True(t, h.Balance(dst.ID).Equal(Dec(t, "100")))
	for _, e := range h.Entries(src.ID) {
		assert.False(t, e.BalanceAfter.IsNegative(), "entry %d went negative", e.ID)
	}
	h.RequireBalanced(src.ID, dst.ID)
}

func concurrentOpposingTransfers(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "500")
	b, _ := h.Open("user-b", "500")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := ledger.TransferRequest{SourceAccountID: a.ID, Principal: "user-a", Destination: b.Alias, Amount: Dec(t, "5")}
			if i%2 == 1 {
				req = ledger.TransferRequest{SourceAccountID: b.ID, Principal: "user-b", Destination: a.Alias, Amount: Dec(t, "5")}
			}
			_, err := h.Service.Transfer(h.Ctx, req)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.True(t, h.Balance(a.ID).Add(h.Balance(b.ID)).Equal(Dec(t, "1000")))
	h.RequireBalanced(a.ID, b.ID)
}

func idempotentTransfer(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "100")
	b, _ := h.Open("user-b", "0")
	req := ledger.TransferRequest{
		SourceAccountID: a.ID,
		Principal:       "user-a",
		Destination:     b.Alias,
		Amount:          Dec(t, "40"),
		IdempotencyKey:  "retry-1",
	}

	first, err := h.Service.Transfer(h.Ctx, req)
	require.NoError(t, err)
	second, err := h.Service.Transfer(h.Ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, second.Balance.Equal(Dec(t, "60")))
	assert.True(t, h.Balance(a.ID).Equal(Dec(t, "60")))
	assert.True(t, h.Balance(b.ID).Equal(Dec(t, "40")))

	req.Amount = Dec(t, "41")
	_, err = h.Service.Transfer(h.Ctx, req)
	require.ErrorIs(t, err, ledger.ErrIdempotencyConflict)
	h.RequireBalanced(a.ID, b.ID)
}

func uniqueIdentifiers(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "0")
	b, _ := h.Open("user-b", "0")

	_, err := h.Service.CreateAccount(h.Ctx, "user-a")
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)

	assert.NotEqual(t, a.RoutingCode, b.RoutingCode)
	assert.NotEqual(t, a.Alias, b.Alias)

	_, err = h.Service.UpdateAlias(h.Ctx, b.ID, "user-b", a.Alias)
	require.ErrorIs(t, err, ledger.ErrAliasInUse)

	updated, err := h.Service.UpdateAlias(h.Ctx, b.ID, "user-b", "Rio.Verde.42")
	require.NoError(t, err)
	assert.Equal(t, "rio.verde.42", updated.Alias)

	found, err := h.Store.AccountByRoutingOrAlias(h.Ctx, "rio.verde.42")
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)
	_, err = h.Store.AccountByRoutingOrAlias(h.Ctx, b.Alias)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = h.Service.UpdateAlias(h.Ctx, b.ID, "user-a", "otra.cosa.mas")
	require.ErrorIs(t, err, ledger.ErrForbidden)
}

func rollbackOnError(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "10")
	before := len(h.Entries(a.ID))
	boom := errors.New("boom")

	err := h.Store.WithTx(h.Ctx, func(tx ledger.Tx) error {
		if _, err := ledger.ApplyDelta(h.Ctx, tx, a.ID, Dec(t, "90")); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(h.Ctx, ledger.Transaction{
			AccountID:    a.ID,
			Type:         ledger.TypeDeposit,
			Amount:       Dec(t, "90"),
			Status:       ledger.StatusCompleted,
			BalanceAfter: Dec(t, "100"),
			CreatedAt:    Start,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, h.Balance(a.ID).Equal(Dec(t, "10")))
	assert.Len(t, h.Entries(a.ID), before)

	err = h.Store.WithTx(h.Ctx, func(tx ledger.Tx) error {
		_, err := ledger.ApplyDelta(h.Ctx, tx, a.ID, Dec(t, "-10.01"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, h.Balance(a.ID).Equal(Dec(t, "10")))

	err = h.Store.WithTx(h.Ctx, func(tx ledger.Tx) error {
		_, err := ledger.ApplyDelta(h.Ctx, tx, a.ID+1000, Dec(t, "1"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func logOrdering(t *testing.T, h *Harness) {
	a, card := h.Open("user-a", "0")
	b, _ := h.Open("user-b", "0")
	for i := 1; i <= 6; i++ {
		_, err := h.Service.Deposit(h.Ctx, ledger.DepositRequest{
			AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: Dec(t, fmt.Sprintf("%d", i*10)),
		})
		require.NoError(t, err)
	}
	_, err := h.Service.Transfer(h.Ctx, ledger.TransferRequest{
		SourceAccountID: a.ID, Principal: "user-a", Destination: b.RoutingCode, Amount: Dec(t, "5"),
	})
	require.NoError(t, err)

	all := h.Entries(a.ID)
	require.Len(t, all, 7)
	for i := 1; i < len(all); i++ {
		assert.Truef(t, !all[i].CreatedAt.After(all[i-1].CreatedAt), "entry %d out of order", i)
	}
	assert.Equal(t, ledger.TypeTransferOut, all[0].Type)

	last, err := h.Service.ListTransactions(h.Ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, last, ledger.DefaultListLimit)
	assert.Equal(t, all[:ledger.DefaultListLimit], last)

	deposits, err := h.Store.Transactions(h.Ctx, a.ID, ledger.LogQuery{Type: ledger.TypeDeposit, Limit: 2})
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	assert.True(t, deposits[0].Amount.Equal(Dec(t, "60")))
	assert.True(t, deposits[1].Amount.Equal(Dec(t, "50")))

	_, err = h.Service.ListTransactions(h.Ctx, a.ID+b.ID+100, 5)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func cards(t *testing.T, h *Harness) {
	a, first := h.Open("user-a", "0")
	b, other := h.Open("user-b", "0")

	second, err := h.Service.AddCard(h.Ctx, a.ID, "user-a", ledger.NewCard{
		LastFour:   "9876",
		HolderName: "  Ana Perez ",
		ExpiresOn:  Start.AddDate(2, 0, 0),
		Type:       "credit",
		Brand:      "mastercard",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.CardCredit, second.Type)
	assert.Equal(t, ledger.BrandMastercard, second.Brand)
	assert.Equal(t, ledger.CardActive, second.Status)
	assert.Equal(t, "Ana Perez", second.HolderName)
	assert.Equal(t, "**** **** **** 9876", second.MaskedNumber())

	_, err = h.Service.AddCard(h.Ctx, a.ID, "user-a", ledger.NewCard{
		LastFour: "12a4", HolderName: "x", ExpiresOn: Start.AddDate(1, 0, 0), Type: ledger.CardDebit, Brand: ledger.BrandVisa,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = h.Service.AddCard(h.Ctx, a.ID, "user-b", ledger.NewCard{
		LastFour: "1111", HolderName: "x", ExpiresOn: Start.AddDate(1, 0, 0), Type: ledger.CardDebit, Brand: ledger.BrandVisa,
	})
	require.ErrorIs(t, err, ledger.ErrForbidden)

	blocked, err := h.Service.BlockCard(h.Ctx, a.ID, first.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, ledger.CardBlocked, blocked.Status)

	list, err := h.Service.ListCards(h.Ctx, a.ID, "user-a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, ledger.CardBlocked, list[0].Status)
	assert.Equal(t, ledger.CardActive, list[1].Status)

	_, err = h.Service.GetCard(h.Ctx, a.ID, other.ID, "user-a")
	require.ErrorIs(t, err, ledger.ErrCardNotFound)
	_, err = h.Service.BlockCard(h.Ctx, a.ID, other.ID, "user-a")
	require.ErrorIs(t, err, ledger.ErrCardNotFound)
	_, err = h.Service.Deposit(h.Ctx, ledger.DepositRequest{AccountID: a.ID, Principal: "user-a", CardID: other.ID, Amount: Dec(t, "1")})
	require.ErrorIs(t, err, ledger.ErrCardNotFound)

	got, err := h.Service.GetCard(h.Ctx, b.ID, other.ID, "user-b")
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)
	assert.Equal(t, b.ID, got.AccountID)
	assert.Equal(t, "1234", got.LastFour)
	assert.Equal(t, ledger.CardActive, got.Status)
	assert.True(t, got.ExpiresOn.Equal(Start.AddDate(5, 0, 0).Truncate(24*time.Hour)))
}

func transactionScopedToAccount(t *testing.T, h *Harness) {
	a, _ := h.Open("user-a", "10")
	b, _ := h.Open("user-b", "10")
	txA := h.Entries(a.ID)[0]

	got, err := h.Service.GetActivity(h.Ctx, a.ID, txA.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, txA, got)

	_, err = h.Service.GetActivity(h.Ctx, b.ID, txA.ID, "user-b")
	require.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	_, err = h.Service.GetActivity(h.Ctx, a.ID, txA.ID, "user-b")
	require.ErrorIs(t, err, ledger.ErrForbidden)
}

func decimalPrecision(t *testing.T, h *Harness) {
	a, card := h.Open("user-a", "0.10")
	for range 3 {
		_, err := h.Service.Deposit(h.Ctx, ledger.DepositRequest{
			AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: Dec(t, "0.10"),
		})
		require.NoError(t, err)
	}
	_, err := h.Service.Deposit(h.Ctx, ledger.DepositRequest{
		AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: Dec(t, "99999999999.99"),
	})
	require.NoError(t, err)
	assert.Equal(t, "100000000000.39", h.Balance(a.ID).StringFixed(2))
	h.RequireBalanced(a.ID)
}

// transferConcurrently starts n transfers at once and returns how many
// committed. Any failure other than insufficient funds fails the test.
func (h *Harness) transferConcurrently(src int64, principal, dest string, amount decimal.Decimal, n int) int64 {
	h.T.Helper()
	var (
		wg    sync.WaitGroup
		ok    atomic.Int64
		start = make(chan struct{})
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.Service.Transfer(h.Ctx, ledger.TransferRequest{
				SourceAccountID: src, Principal: principal, Destination: dest, Amount: amount,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrInsufficientFunds):
			default:
				assert.NoError(h.T, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	return ok.Load()
}
