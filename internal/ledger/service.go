package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dmh.org/accounts/internal/obs"
)

// DefaultListLimit is the "last N" size used when a caller does not ask for one.
const DefaultListLimit = 5

var aliasPattern = regexp.MustCompile(`^[a-z0-9]+\.[a-z0-9]+\.[a-z0-9]+$`)

// Event describes a committed log entry for subscribers.
type Event struct {
	AccountID     int64
	TransactionID int64
	Type          TransactionType
	Amount        decimal.Decimal
	Balance       decimal.Decimal
	Description   string
	At            time.Time
}

// Publisher receives events after their unit of work has committed.
type Publisher interface {
	Publish(Event)
}

// Service implements the ledger operations on top of a Store.
type Service struct {
	store       Store
	codes       CodeSource
	maxAttempts int
	now         func() time.Time
	events      Publisher
}

// Option configures Service.
type Option func(*Service)

// WithCodeSource replaces the random routing code and alias generator.
func WithCodeSource(src CodeSource) Option {
	return func(s *Service) {
		if src != nil {
			s.codes = src
		}
	}
}

// WithMaxAttempts bounds identifier generation retries during provisioning.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher attaches a sink for committed entries.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// NewService builds a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		codes:       NewRandomCodes(nil),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAccount returns the account snapshot for id.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	return s.store.AccountByID(ctx, id)
}

// GetAccountByOwner returns the single account owned by principal.
func (s *Service) GetAccountByOwner(ctx context.Context, principal string) (Account, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return Account{}, ErrAccountNotFound
	}
	return s.store.AccountByOwner(ctx, principal)
}

// AccountForPrincipal returns account id after checking that principal owns it.
func (s *Service) AccountForPrincipal(ctx context.Context, id int64, principal string) (Account, error) {
	acc, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if err := checkOwner(acc, principal); err != nil {
		return Account{}, err
	}
	return acc, nil
}

// UpdateAlias replaces the alias of an account owned by principal.
func (s *Service) UpdateAlias(ctx context.Context, id int64, principal, alias string) (Account, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if !aliasPattern.MatchString(alias) {
		return Account{}, ErrInvalidAlias
	}

	var acc Account
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		acc, err = tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		if err := checkOwner(acc, principal); err != nil {
			return err
		}
		if acc.Alias == alias {
			return nil
		}
		taken, err := tx.AliasExists(ctx, alias)
		if err != nil {
			return err
		}
		if taken {
			return ErrAliasInUse
		}
		if err := tx.UpdateAlias(ctx, id, alias); err != nil {
			return err
		}
		acc.Alias = alias
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

// ListTransactions returns the newest limit entries of an account.
func (s *Service) ListTransactions(ctx context.Context, accountID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if _, err := s.store.AccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.Transactions(ctx, accountID, LogQuery{Limit: limit})
}

func checkOwner(acc Account, principal string) error {
	principal = strings.TrimSpace(principal)
	if principal == "" || acc.OwnerID != principal {
		obs.Log("warn", "ownership check failed", map[string]any{
			"account_id": acc.ID,
			"principal":  principal,
		})
		return ErrForbidden
	}
	return nil
}

func (s *Service) publish(txs ...Transaction) {
	if s.events == nil {
		return
	}
	for _, t := range txs {
		s.events.Publish(Event{
			AccountID:     t.AccountID,
			TransactionID: t.ID,
			Type:          t.Type,
			Amount:        t.Amount,
			Balance:       t.BalanceAfter,
			Description:   t.Description,
			At:            t.CreatedAt,
		})
	}
}

// replay resolves a previously recorded entry for an idempotency key. It
// returns ok=false when the key has not been used on this account.
func replay(ctx context.Context, tx Tx, accountID int64, key string, same func(Transaction) bool) (Transaction, bool, error) {
	if key == "" {
		return Transaction{}, false, nil
	}
	prior, err := tx.TransactionByIdempotencyKey(ctx, accountID, key)
	if errors.Is(err, ErrNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	if !same(prior) {
		return Transaction{}, false, fmt.Errorf("%w: key %q", ErrIdempotencyConflict, key)
	}
	return prior, true, nil
}

func (s *Service) observe(op string, err error) {
	obs.RecordLedgerOp(op, outcomeOf(err))
}

// outcomeOf maps an operation error to a low-cardinality metric label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidOperation):
		return "rejected"
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrIdempotencyConflict):
		return "conflict"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
