package ledger

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
)

// InMemory implements Store with in-process concurrency safety. Units of
// work run one at a time under the write lock; reads share the read lock and
// therefore never see a half-applied unit of work.
type InMemory struct {
	mu sync.RWMutex

	accounts map[int64]Account
	owners   map[string]int64
	routing  map[string]int64
	aliases  map[string]int64

	cards map[int64]Card

	txs       []Transaction
	byAccount map[int64][]int // account id -> indexes into txs

	accountSeq int64
	cardSeq    int64
	txSeq      int64
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts:  make(map[int64]Account),
		owners:    make(map[string]int64),
		routing:   make(map[string]int64),
		aliases:   make(map[string]int64),
		cards:     make(map[int64]Card),
		byAccount: make(map[int64][]int),
	}
}

func (s *InMemory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *InMemory) AccountByID(ctx context.Context, id int64) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountByID(id)
}

func (s *InMemory) AccountByOwner(ctx context.Context, ownerID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountByOwner(ownerID)
}

func (s *InMemory) AccountByRoutingOrAlias(ctx context.Context, token string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountByRoutingOrAlias(token)
}

func (s *InMemory) Transactions(ctx context.Context, accountID int64, q LogQuery) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactions(accountID, q), nil
}

func (s *InMemory) Transaction(ctx context.Context, accountID, txID int64) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transaction(accountID, txID)
}

func (s *InMemory) Cards(ctx context.Context, accountID int64) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cardsOf(accountID), nil
}

func (s *InMemory) Card(ctx context.Context, accountID, cardID int64) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.card(accountID, cardID)
}

// --- unlocked helpers, callers hold s.mu ---

func (s *InMemory) accountByID(id int64) (Account, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (s *InMemory) accountByOwner(ownerID string) (Account, error) {
	id, ok := s.owners[ownerID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.accountByID(id)
}

func (s *InMemory) accountByRoutingOrAlias(token string) (Account, error) {
	if id, ok := s.routing[token]; ok {
		return s.accountByID(id)
	}
	if id, ok := s.aliases[token]; ok {
		return s.accountByID(id)
	}
	return Account{}, ErrAccountNotFound
}

func (s *InMemory) transactions(accountID int64, q LogQuery) []Transaction {
	idx := s.byAccount[accountID]
	out := make([]Transaction, 0, len(idx))
	for _, i := range idx {
		t := s.txs[i]
		if q.Type != "" && t.Type != q.Type {
			continue
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, newestFirst)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func newestFirst(a, b Transaction) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (s *InMemory) transaction(accountID, txID int64) (Transaction, error) {
	for _, i := range s.byAccount[accountID] {
		if s.txs[i].ID == txID {
			return s.txs[i], nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (s *InMemory) cardsOf(accountID int64) []Card {
	out := []Card{}
	for _, c := range s.cards {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Card) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *InMemory) card(accountID, cardID int64) (Card, error) {
	c, ok := s.cards[cardID]
	if !ok || c.AccountID != accountID {
		return Card{}, ErrCardNotFound
	}
	return c, nil
}

// memTx mutates the store directly and records how to undo each change.
type memTx struct {
	s    *InMemory
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) AccountByID(ctx context.Context, id int64) (Account, error) {
	return t.s.accountByID(id)
}

func (t *memTx) AccountByOwner(ctx context.Context, ownerID string) (Account, error) {
	return t.s.accountByOwner(ownerID)
}

func (t *memTx) AccountByRoutingOrAlias(ctx context.Context, token string) (Account, error) {
	return t.s.accountByRoutingOrAlias(token)
}

func (t *memTx) Transactions(ctx context.Context, accountID int64, q LogQuery) ([]Transaction, error) {
	return t.s.transactions(accountID, q), nil
}

func (t *memTx) Transaction(ctx context.Context, accountID, txID int64) (Transaction, error) {
	return t.s.transaction(accountID, txID)
}

func (t *memTx) Cards(ctx context.Context, accountID int64) ([]Card, error) {
	return t.s.cardsOf(accountID), nil
}

func (t *memTx) Card(ctx context.Context, accountID, cardID int64) (Card, error) {
	return t.s.card(accountID, cardID)
}

// LockAccount is a plain read: the whole unit of work already holds the
// store's write lock.
func (t *memTx) LockAccount(ctx context.Context, id int64) (Account, error) {
	return t.s.accountByID(id)
}

func (t *memTx) SetBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	acc, err := t.s.accountByID(id)
	if err != nil {
		return err
	}
	prev := acc.Balance
	acc.Balance = balance
	t.s.accounts[id] = acc
	t.undo = append(t.undo, func() {
		a := t.s.accounts[id]
		a.Balance = prev
		t.s.accounts[id] = a
	})
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, rec Transaction) (Transaction, error) {
	if _, err := t.s.accountByID(rec.AccountID); err != nil {
		return Transaction{}, err
	}
	if rec.IdempotencyKey != "" {
		if _, err := t.TransactionByIdempotencyKey(ctx, rec.AccountID, rec.IdempotencyKey); err == nil {
			return Transaction{}, ErrIdempotencyKeyUse
		}
	}
	t.s.txSeq++
	rec.ID = t.s.txSeq
	t.s.txs = append(t.s.txs, rec)
	t.s.byAccount[rec.AccountID] = append(t.s.byAccount[rec.AccountID], len(t.s.txs)-1)
	t.undo = append(t.undo, func() {
		t.s.txs = t.s.txs[:len(t.s.txs)-1]
		idx := t.s.byAccount[rec.AccountID]
		t.s.byAccount[rec.AccountID] = idx[:len(idx)-1]
	})
	return rec, nil
}

func (t *memTx) TransactionByIdempotencyKey(ctx context.Context, accountID int64, key string) (Transaction, error) {
	for _, i := range t.s.byAccount[accountID] {
		if t.s.txs[i].IdempotencyKey == key {
			return t.s.txs[i], nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (t *memTx) RoutingCodeExists(ctx context.Context, code string) (bool, error) {
	_, ok := t.s.routing[code]
	return ok, nil
}

func (t *memTx) AliasExists(ctx context.Context, alias string) (bool, error) {
	_, ok := t.s.aliases[alias]
	return ok, nil
}

func (t *memTx) InsertAccount(ctx context.Context, acc Account) (Account, error) {
	if _, ok := t.s.owners[acc.OwnerID]; ok {
		return Account{}, ErrAccountExists
	}
	if _, ok := t.s.routing[acc.RoutingCode]; ok {
		return Account{}, ErrRoutingCodeInUse
	}
	if _, ok := t.s.aliases[acc.Alias]; ok {
		return Account{}, ErrAliasInUse
	}
	t.s.accountSeq++
	acc.ID = t.s.accountSeq
	t.s.accounts[acc.ID] = acc
	t.s.owners[acc.OwnerID] = acc.ID
	t.s.routing[acc.RoutingCode] = acc.ID
	t.s.aliases[acc.Alias] = acc.ID
	t.undo = append(t.undo, func() {
		delete(t.s.accounts, acc.ID)
		delete(t.s.owners, acc.OwnerID)
		delete(t.s.routing, acc.RoutingCode)
		delete(t.s.aliases, acc.Alias)
	})
	return acc, nil
}

func (t *memTx) UpdateAlias(ctx context.Context, id int64, alias string) error {
	acc, err := t.s.accountByID(id)
	if err != nil {
		return err
	}
	if other, ok := t.s.aliases[alias]; ok && other != id {
		return ErrAliasInUse
	}
	prev := acc.Alias
	delete(t.s.aliases, prev)
	acc.Alias = alias
	t.s.accounts[id] = acc
	t.s.aliases[alias] = id
	t.undo = append(t.undo, func() {
		a := t.s.accounts[id]
		delete(t.s.aliases, a.Alias)
		a.Alias = prev
		t.s.accounts[id] = a
		t.s.aliases[prev] = id
	})
	return nil
}

func (t *memTx) InsertCard(ctx context.Context, c Card) (Card, error) {
	if _, err := t.s.accountByID(c.AccountID); err != nil {
		return Card{}, err
	}
	t.s.cardSeq++
	c.ID = t.s.cardSeq
	t.s.cards[c.ID] = c
	t.undo = append(t.undo, func() { delete(t.s.cards, c.ID) })
	return c, nil
}

func (t *memTx) SetCardStatus(ctx context.Context, accountID, cardID int64, status CardStatus) error {
	c, err := t.s.card(accountID, cardID)
	if err != nil {
		return err
	}
	prev := c.Status
	c.Status = status
	t.s.cards[cardID] = c
	t.undo = append(t.undo, func() {
		cc := t.s.cards[cardID]
		cc.Status = prev
		t.s.cards[cardID] = cc
	})
	return nil
}
