package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// LogQuery narrows a transaction log read. Zero values mean "any" and
// "unbounded". Results are always newest first.
type LogQuery struct {
	Type  TransactionType
	Limit int
}

// Reader exposes the read side of the account store and transaction log.
// Implementations return ErrAccountNotFound, ErrCardNotFound or
// ErrTransactionNotFound for missing rows.
type Reader interface {
	AccountByID(ctx context.Context, id int64) (Account, error)
	AccountByOwner(ctx context.Context, ownerID string) (Account, error)
	// AccountByRoutingOrAlias matches token against both the routing code
	// and the alias of every account.
	AccountByRoutingOrAlias(ctx context.Context, token string) (Account, error)

	Transactions(ctx context.Context, accountID int64, q LogQuery) ([]Transaction, error)
	Transaction(ctx context.Context, accountID, txID int64) (Transaction, error)

	Cards(ctx context.Context, accountID int64) ([]Card, error)
	Card(ctx context.Context, accountID, cardID int64) (Card, error)
}

// Tx is a single unit of work. Everything written through a Tx becomes
// visible to other callers atomically on commit, or not at all.
type Tx interface {
	Reader

	// LockAccount reads the account and holds it exclusively until the unit
	// of work ends.
	LockAccount(ctx context.Context, id int64) (Account, error)
	SetBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	AppendTransaction(ctx context.Context, t Transaction) (Transaction, error)
	TransactionByIdempotencyKey(ctx context.Context, accountID int64, key string) (Transaction, error)

	RoutingCodeExists(ctx context.Context, code string) (bool, error)
	AliasExists(ctx context.Context, alias string) (bool, error)
	// InsertAccount maps unique violations to ErrAccountExists,
	// ErrRoutingCodeInUse or ErrAliasInUse.
	InsertAccount(ctx context.Context, acc Account) (Account, error)
	UpdateAlias(ctx context.Context, id int64, alias string) error

	InsertCard(ctx context.Context, c Card) (Card, error)
	SetCardStatus(ctx context.Context, accountID, cardID int64, status CardStatus) error
}

// Store is the durable home of accounts, cards and the transaction log.
type Store interface {
	Reader
	// WithTx runs fn inside one unit of work and commits when fn returns
	// nil. Implementations may run fn more than once on retryable storage
	// conflicts, so fn must not have effects outside tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
