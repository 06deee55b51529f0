package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTransferOutNarrative(t *testing.T) {
	cases := map[string]string{
		"0000003100012345678901": "Transfer to CVU: 0000003100012345678901",
		"sol.luna.estrella":      "Transfer to Alias: sol.luna.estrella",
		"000000310001234567890":  "Transfer to CBU: 000000310001234567890",
		"someone":                "Transfer to CBU: someone",
	}
	for dest, want := range cases {
		if got := transferOutNarrative(dest); got != want {
			t.Fatalf("transferOutNarrative(%q)=%q, want %q", dest, got, want)
		}
	}
}

func TestRecipientFromNarrative(t *testing.T) {
	cases := map[string]string{
		"Transfer to Alias: sol.luna.estrella": "sol.luna.estrella",
		"Transfer to CVU: 123":                 "123",
		"rent march":                           "",
	}
	for desc, want := range cases {
		if got := recipientFromNarrative(desc); got != want {
			t.Fatalf("recipientFromNarrative(%q)=%q, want %q", desc, got, want)
		}
	}
}

func TestValidAmount(t *testing.T) {
	for _, ok := range []string{"0.01", "1", "1.5", "100000000.99"} {
		if err := validAmount(decimal.RequireFromString(ok)); err != nil {
			t.Fatalf("validAmount(%s): %v", ok, err)
		}
	}
	for _, bad := range []string{"0", "-0.01", "0.001", "12.345"} {
		if err := validAmount(decimal.RequireFromString(bad)); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("validAmount(%s)=%v, want ErrInvalidAmount", bad, err)
		}
	}
}

func TestInMemoryUndoRestoresEverything(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	var acc Account
	var card Card
	err := s.WithTx(ctx, func(tx Tx) error {
		var err error
		acc, err = tx.InsertAccount(ctx, Account{OwnerID: "u", RoutingCode: "1", Alias: "a.b.c", Balance: decimal.NewFromInt(5)})
		if err != nil {
			return err
		}
		card, err = tx.InsertCard(ctx, Card{AccountID: acc.ID, LastFour: "1234", Status: CardActive})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateAlias(ctx, acc.ID, "x.y.z"); err != nil {
			return err
		}
		if err := tx.SetCardStatus(ctx, acc.ID, card.ID, CardBlocked); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, acc.ID, decimal.NewFromInt(9)); err != nil {
			return err
		}
		if _, err := tx.InsertAccount(ctx, Account{OwnerID: "v", RoutingCode: "2", Alias: "d.e.f"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.AccountByRoutingOrAlias(ctx, "a.b.c")
	if err != nil || got.ID != acc.ID || !got.Balance.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("account not restored: %+v, %v", got, err)
	}
	if _, err := s.AccountByRoutingOrAlias(ctx, "x.y.z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("alias change survived rollback: %v", err)
	}
	if _, err := s.AccountByOwner(ctx, "v"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inserted account survived rollback: %v", err)
	}
	c, _ := s.Card(ctx, acc.ID, card.ID)
	if c.Status != CardActive {
		t.Fatalf("card status not restored: %s", c.Status)
	}
}

func TestInMemoryCancelledContext(t *testing.T) {
	s := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.WithTx(ctx, func(Tx) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected context.Canceled before running, got %v (called=%v)", err, called)
	}
}
