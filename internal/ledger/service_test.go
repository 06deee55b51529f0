package ledger_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmh.org/accounts/internal/ledger"
	"dmh.org/accounts/internal/ledger/ledgertest"
)

func TestInMemoryStore(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store { return ledger.NewInMemory() })
}

func TestGetAccountByOwner(t *testing.T) {
	h := ledgertest.New(t, ledger.NewInMemory())
	a, _ := h.Open("user-a", "12.34")

	got, err := h.Service.GetAccountByOwner(h.Ctx, " user-a ")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "12.34", got.Balance.StringFixed(2))

	_, err = h.Service.GetAccountByOwner(h.Ctx, "nobody")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	_, err = h.Service.GetAccountByOwner(h.Ctx, "")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	byID, err := h.Service.GetAccount(h.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, got, byID)
}

func TestAccountForPrincipal(t *testing.T) {
	h := ledgertest.New(t, ledger.NewInMemory())
	a, _ := h.Open("user-a", "0")
	h.Open("user-b", "0")

	_, err := h.Service.AccountForPrincipal(h.Ctx, a.ID, "user-a")
	require.NoError(t, err)

	_, err = h.Service.AccountForPrincipal(h.Ctx, a.ID, "user-b")
	require.ErrorIs(t, err, ledger.ErrForbidden)
	assert.NotContains(t, err.Error(), "user-a")

	_, err = h.Service.AccountForPrincipal(h.Ctx, 999, "user-a")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestUpdateAlias(t *testing.T) {
	h := ledgertest.New(t, ledger.NewInMemory())
	a, _ := h.Open("user-a", "0")

	for _, bad := range []string{"", "solo", "two.words", "a.b.c.d", "con espacio.x.y", "ñandu.x.y", "a..b"} {
		_, err := h.Service.UpdateAlias(h.Ctx, a.ID, "user-a", bad)
		require.ErrorIsf(t, err, ledger.ErrInvalidAlias, "alias %q", bad)
	}

	same, err := h.Service.UpdateAlias(h.Ctx, a.ID, "user-a", a.Alias)
	require.NoError(t, err)
	assert.Equal(t, a.Alias, same.Alias)

	_, err = h.Service.UpdateAlias(h.Ctx, 999, "user-a", "gato.rojo.7")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (p *recordingPublisher) Publish(e ledger.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func TestPublishAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	h := ledgertest.New(t, ledger.NewInMemory(), ledger.WithPublisher(pub))
	a, _ := h.Open("user-a", "100")
	b, _ := h.Open("user-b", "0")
	require.Len(t, pub.events, 1)

	_, err := h.Service.Transfer(h.Ctx, ledger.TransferRequest{
		SourceAccountID: a.ID, Principal: "user-a", Destination: b.Alias, Amount: ledgertest.Dec(t, "30"),
	})
	require.NoError(t, err)
	_, err = h.Service.Transfer(h.Ctx, ledger.TransferRequest{
		SourceAccountID: a.ID, Principal: "user-a", Destination: b.Alias, Amount: ledgertest.Dec(t, "300"),
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	require.Len(t, pub.events, 3)
	out, in := pub.events[1], pub.events[2]
	assert.Equal(t, a.ID, out.AccountID)
	assert.Equal(t, ledger.TypeTransferOut, out.Type)
	assert.Equal(t, "70.00", out.Balance.StringFixed(2))
	assert.Equal(t, b.ID, in.AccountID)
	assert.Equal(t, ledger.TypeTransferIn, in.Type)
	assert.Equal(t, "30.00", in.Balance.StringFixed(2))
}
