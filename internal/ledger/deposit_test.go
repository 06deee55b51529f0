package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmh.org/accounts/internal/ledger"
	"dmh.org/accounts/internal/ledger/ledgertest"
)

func TestDepositCreditsAccount(t *testing.T) {
	h := ledgertest.New(t, ledger.NewInMemory())
	a, card := h.Open("user-a", "0")

	res, err := h.Service.Deposit(h.Ctx, ledger.DepositRequest{
		AccountID: a.ID,
		Principal: "user-a",
		CardID:    card.ID,
		Amount:    ledgertest.Dec(t, "1500.75"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1500.75", res.Balance.StringFixed(2))
	assert.Equal(t, "Deposit from card **** 1234", res.Description)
	assert.Equal(t, card.ID, res.CardID)

	entries := h.Entries(a.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.TypeDeposit, entries[0].Type)
	assert.Equal(t, res.TransactionID, entries[0].ID)
	assert.Equal(t, card.ID, entries[0].CardID)
}

func TestDepositRejections(t *testing.T) {
	h := ledgertest.New(t, ledger.NewInMemory())
	a, card := h.Open("user-a", "5")
	_, other := h.Open("user-b", "0")

	cases := []struct {
		name string
		req  ledger.DepositRequest
		want error
	}{
		{"unknown account", ledger.DepositRequest{AccountID: 404, Principal: "user-a", CardID: card.ID, Amount: ledgertest.Dec(t, "1")}, ledger.ErrAccountNotFound},
		{"not owner", ledger.DepositRequest{AccountID: a.ID, Principal: "user-b", CardID: card.ID, Amount: ledgertest.Dec(t, "1")}, ledger.ErrForbidden},
		{"foreign card", ledger.DepositRequest{AccountID: a.ID, Principal: "user-a", CardID: other.ID, Amount: ledgertest.Dec(t, "1")}, ledger.ErrCardNotFound},
		{"zero", ledger.DepositRequest{AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: ledgertest.Dec(t, "0")}, ledger.ErrInvalidAmount},
		{"sub-cent", ledger.DepositRequest{AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: ledgertest.Dec(t, "0.001")}, ledger.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Service.Deposit(h.Ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, "5.00", h.Balance(a.ID).StringFixed(2))
	assert.Len(t, h.Entries(a.ID), 1)
}

func TestDepositExpiredCard(t *testing.T) {
	h := ledgertest.New(t, ledger.NewInMemory())
	a, _ := h.Open("user-a", "0")
	card, err := h.Service.AddCard(h.Ctx, a.ID, "user-a", ledger.NewCard{
		LastFour:   "4321",
		HolderName: "Test Holder",
		ExpiresOn:  ledgertest.Start,
		Type:       ledger.CardDebit,
		Brand:      ledger.BrandMaestro,
	})
	require.NoError(t, err)

	_, err = h.Service.Deposit(h.Ctx, ledger.DepositRequest{AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: ledgertest.Dec(t, "1")})
	require.NoError(t, err, "a card is usable through its expiry date")

	h.Clock.Set(ledgertest.Start.AddDate(0, 0, 1))
	_, err = h.Service.Deposit(h.Ctx, ledger.DepositRequest{AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: ledgertest.Dec(t, "1")})
	require.ErrorIs(t, err, ledger.ErrInvalidOperation)
	assert.Equal(t, "1.00", h.Balance(a.ID).StringFixed(2))
}

func TestDepositIdempotency(t *testing.T) {
	h := ledgertest.New(t, ledger.NewInMemory())
	a, card := h.Open("user-a", "0")
	req := ledger.DepositRequest{AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: ledgertest.Dec(t, "20"), IdempotencyKey: "dep-1"}

	first, err := h.Service.Deposit(h.Ctx, req)
	require.NoError(t, err)
	_, err = h.Service.Deposit(h.Ctx, ledger.DepositRequest{AccountID: a.ID, Principal: "user-a", CardID: card.ID, Amount: ledgertest.Dec(t, "5")})
	require.NoError(t, err)

	again, err := h.Service.Deposit(h.Ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.TransactionID, again.TransactionID)
	assert.Equal(t, "20.00", again.Balance.StringFixed(2), "replay reports the balance recorded with the entry")
	assert.Equal(t, "25.00", h.Balance(a.ID).StringFixed(2))

	req.CardID = card.ID + 1000
	_, err = h.Service.Deposit(h.Ctx, req)
	require.ErrorIs(t, err, ledger.ErrIdempotencyConflict)
}
