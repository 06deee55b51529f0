// Package ledgertest holds fixtures shared by the tests of every ledger.Store
// implementation.
package ledgertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dmh.org/accounts/internal/ledger"
)

// Start is the instant fixtures begin at.
var Start = time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

// Clock advances by Step every time it is read, so consecutive entries never
// share a timestamp unless a test wants them to.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start, Step: time.Second}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Codes replays fixed routing codes and aliases in order. Once a list is
// used up its last value repeats.
type Codes struct {
	mu      sync.Mutex
	routing []string
	aliases []string
	ri, ai  int
}

func NewCodes(routing, aliases []string) *Codes {
	return &Codes{routing: routing, aliases: aliases}
}

func (c *Codes) RoutingCode() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return next(c.routing, &c.ri), nil
}

func (c *Codes) Alias() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return next(c.aliases, &c.ai), nil
}

func next(list []string, i *int) string {
	if *i >= len(list) {
		return list[len(list)-1]
	}
	v := list[*i]
	*i++
	return v
}

// Harness wires a Service to a store with a deterministic clock.
type Harness struct {
	T       *testing.T
	Ctx     context.Context
	Store   ledger.Store
	Service *ledger.Service
	Clock   *Clock
}

func New(t *testing.T, store ledger.Store, opts ...ledger.Option) *Harness {
	t.Helper()
	clock := NewClock(Start)
	opts = append([]ledger.Option{ledger.WithClock(clock.Now)}, opts...)
	return &Harness{
		T:       t,
		Ctx:     context.Background(),
		Store:   store,
		Service: ledger.NewService(store, opts...),
		Clock:   clock,
	}
}

// Dec parses a decimal literal or fails the test.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// Open provisions an account for principal with an active debit card and
// funds it with one deposit when balance is positive.
func (h *Harness) Open(principal, balance string) (ledger.Account, ledger.Card) {
	h.T.Helper()
	acc, err := h.Service.CreateAccount(h.Ctx, principal)
	require.NoError(h.T, err)
	card, err := h.Service.AddCard(h.Ctx, acc.ID, principal, ledger.NewCard{
		LastFour:   "1234",
		HolderName: "Test Holder",
		ExpiresOn:  Start.AddDate(5, 0, 0),
		Type:       ledger.CardDebit,
		Brand:      ledger.BrandVisa,
	})
	require.NoError(h.T, err)

	amount := Dec(h.T, balance)
	if amount.IsPositive() {
		_, err := h.Service.Deposit(h.Ctx, ledger.DepositRequest{
			AccountID: acc.ID,
			Principal: principal,
			CardID:    card.ID,
			Amount:    amount,
		})
		require.NoError(h.T, err)
	}
	acc, err = h.Store.AccountByID(h.Ctx, acc.ID)
	require.NoError(h.T, err)
	return acc, card
}

// Balance reads the stored balance of id.
func (h *Harness) Balance(id int64) decimal.Decimal {
	h.T.Helper()
	acc, err := h.Store.AccountByID(h.Ctx, id)
	require.NoError(h.T, err)
	return acc.Balance
}

// Entries returns the whole log of id, newest first.
func (h *Harness) Entries(id int64) []ledger.Transaction {
	h.T.Helper()
	txs, err := h.Store.Transactions(h.Ctx, id, ledger.LogQuery{})
	require.NoError(h.T, err)
	return txs
}

// RequireBalanced checks the balance invariant for every account in ids.
func (h *Harness) RequireBalanced(ids ...int64) {
	h.T.Helper()
	for _, id := range ids {
		acc, err := h.Store.AccountByID(h.Ctx, id)
		require.NoError(h.T, err)
		rec := ledger.ReconcileEntries(acc, h.Entries(id))
		require.Truef(h.T, rec.Balanced, "account %d: balance %s, ledger %s", id, rec.Balance, rec.LedgerSum)
	}
}
