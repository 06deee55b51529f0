package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a monetary movement against one account.
type TransactionType string

const (
	TypeDeposit     TransactionType = "DEPOSIT"
	TypeWithdrawal  TransactionType = "WITHDRAWAL"
	TypeTransferIn  TransactionType = "TRANSFER_IN"
	TypeTransferOut TransactionType = "TRANSFER_OUT"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeTransferIn, TypeTransferOut:
		return true
	}
	return false
}

// Credit reports whether entries of this type increase the balance.
func (t TransactionType) Credit() bool {
	return t == TypeDeposit || t == TypeTransferIn
}

// ParseTransactionType accepts the canonical upper-case names, case-insensitively.
func ParseTransactionType(raw string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, raw)
	}
	return t, nil
}

// TransactionStatus is the lifecycle state of a log entry. The engine only
// writes COMPLETED entries; the rest are reserved for asynchronous flows.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// Account is the balance-holding record owned by a single principal.
type Account struct {
	ID          int64
	OwnerID     string
	RoutingCode string
	Alias       string
	Balance     decimal.Decimal
	CreatedAt   time.Time
}

// Transaction is one immutable entry of the per-account log.
type Transaction struct {
	ID          int64
	AccountID   int64
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	Status      TransactionStatus

	// Counterparty is the destination token for TRANSFER_OUT and the source
	// routing code for TRANSFER_IN.
	Counterparty          string
	CounterpartyAccountID int64
	CardID                int64
	IdempotencyKey        string

	// BalanceAfter is the owning account's balance right after this entry.
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}

// Signed returns the amount with the sign it contributes to the balance.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type.Credit() {
		return t.Amount
	}
	return t.Amount.Neg()
}

type CardType string

const (
	CardDebit  CardType = "DEBIT"
	CardCredit CardType = "CREDIT"
)

type CardBrand string

const (
	BrandVisa       CardBrand = "VISA"
	BrandMastercard CardBrand = "MASTERCARD"
	BrandAmex       CardBrand = "AMEX"
	BrandMaestro    CardBrand = "MAESTRO"
)

type CardStatus string

const (
	CardActive  CardStatus = "ACTIVE"
	CardBlocked CardStatus = "BLOCKED"
	CardExpired CardStatus = "EXPIRED"
)

// Card is a funding instrument linked to an account. Only the last four
// digits of the number are ever stored.
type Card struct {
	ID         int64
	AccountID  int64
	LastFour   string
	HolderName string
	ExpiresOn  time.Time
	Type       CardType
	Brand      CardBrand
	Status     CardStatus
	CreatedAt  time.Time
}

// MaskedNumber renders the card number the way it is shown to users.
func (c Card) MaskedNumber() string {
	return "**** **** **** " + c.LastFour
}

// ExpiredAt reports whether the card's expiry date is before the date of now.
func (c Card) ExpiredAt(now time.Time) bool {
	if c.ExpiresOn.IsZero() {
		return false
	}
	return civilDate(c.ExpiresOn).Before(civilDate(now))
}

// civilDate truncates t to midnight UTC of its UTC calendar date.
func civilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
