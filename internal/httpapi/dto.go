package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"dmh.org/accounts/internal/ledger"
)

const dateLayout = "2006-01-02"

// Amounts are always rendered as strings with two decimals.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func listOf[S any, T any](in []S, conv func(S) T) listResponse[T] {
	out := make([]T, 0, len(in))
	for _, v := range in {
		out = append(out, conv(v))
	}
	return listResponse[T]{Items: out}
}

type accountResponse struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"owner_id"`
	RoutingCode string    `json:"routing_code"`
	Alias       string    `json:"alias"`
	Balance     string    `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
}

func accountDTO(a ledger.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		RoutingCode: a.RoutingCode,
		Alias:       a.Alias,
		Balance:     money(a.Balance),
		CreatedAt:   a.CreatedAt.UTC(),
	}
}

type transactionResponse struct {
	ID                    int64     `json:"id"`
	AccountID             int64     `json:"account_id"`
	Type                  string    `json:"type"`
	Amount                string    `json:"amount"`
	Description           string    `json:"description"`
	Status                string    `json:"status"`
	Counterparty          string    `json:"counterparty,omitempty"`
	CounterpartyAccountID int64     `json:"counterparty_account_id,omitempty"`
	CardID                int64     `json:"card_id,omitempty"`
	BalanceAfter          string    `json:"balance_after"`
	CreatedAt             time.Time `json:"created_at"`
}

func transactionDTO(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:                    t.ID,
		AccountID:             t.AccountID,
		Type:                  string(t.Type),
		Amount:                money(t.Amount),
		Description:           t.Description,
		Status:                string(t.Status),
		Counterparty:          t.Counterparty,
		CounterpartyAccountID: t.CounterpartyAccountID,
		CardID:                t.CardID,
		BalanceAfter:          money(t.BalanceAfter),
		CreatedAt:             t.CreatedAt.UTC(),
	}
}

type depositResponse struct {
	TransactionID int64     `json:"transaction_id"`
	AccountID     int64     `json:"account_id"`
	CardID        int64     `json:"card_id"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description"`
	Balance       string    `json:"balance"`
	CreatedAt     time.Time `json:"created_at"`
}

func depositDTO(d ledger.DepositResult) depositResponse {
	return depositResponse{
		TransactionID: d.TransactionID,
		AccountID:     d.AccountID,
		CardID:        d.CardID,
		Amount:        money(d.Amount),
		Description:   d.Description,
		Balance:       money(d.Balance),
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

type transferResponse struct {
	TransactionID int64     `json:"transaction_id"`
	AccountID     int64     `json:"account_id"`
	Destination   string    `json:"destination"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description"`
	Balance       string    `json:"balance"`
	CreatedAt     time.Time `json:"created_at"`
}

func transferDTO(t ledger.TransferResult) transferResponse {
	return transferResponse{
		TransactionID: t.TransactionID,
		AccountID:     t.SourceAccountID,
		Destination:   t.Destination,
		Amount:        money(t.Amount),
		Description:   t.Description,
		Balance:       money(t.Balance),
		CreatedAt:     t.CreatedAt.UTC(),
	}
}

type recipientResponse struct {
	Destination   string    `json:"destination"`
	AccountID     int64     `json:"account_id,omitempty"`
	Amount        string    `json:"amount"`
	TransferredAt time.Time `json:"transferred_at"`
}

func recipientDTO(r ledger.Recipient) recipientResponse {
	return recipientResponse{
		Destination:   r.Destination,
		AccountID:     r.AccountID,
		Amount:        money(r.Amount),
		TransferredAt: r.TransferredAt.UTC(),
	}
}

type cardResponse struct {
	ID         int64     `json:"id"`
	AccountID  int64     `json:"account_id"`
	Number     string    `json:"number"`
	LastFour   string    `json:"last_four"`
	HolderName string    `json:"holder_name"`
	ExpiresOn  string    `json:"expires_on"`
	Type       string    `json:"type"`
	Brand      string    `json:"brand"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func cardDTO(c ledger.Card) cardResponse {
	return cardResponse{
		ID:         c.ID,
		AccountID:  c.AccountID,
		Number:     c.MaskedNumber(),
		LastFour:   c.LastFour,
		HolderName: c.HolderName,
		ExpiresOn:  c.ExpiresOn.UTC().Format(dateLayout),
		Type:       string(c.Type),
		Brand:      string(c.Brand),
		Status:     string(c.Status),
		CreatedAt:  c.CreatedAt.UTC(),
	}
}

type reconciliationResponse struct {
	AccountID int64  `json:"account_id"`
	Balance   string `json:"balance"`
	LedgerSum string `json:"ledger_sum"`
	Entries   int    `json:"entries"`
	Balanced  bool   `json:"balanced"`
}

func reconciliationDTO(r ledger.Reconciliation) reconciliationResponse {
	return reconciliationResponse{
		AccountID: r.AccountID,
		Balance:   money(r.Balance),
		LedgerSum: money(r.LedgerSum),
		Entries:   r.Entries,
		Balanced:  r.Balanced,
	}
}

type aliasRequest struct {
	Alias string `json:"alias"`
}

type depositRequest struct {
	CardID      int64           `json:"card_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type transferRequest struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type cardRequest struct {
	LastFour   string `json:"last_four"`
	HolderName string `json:"holder_name"`
	ExpiresOn  string `json:"expires_on"`
	Type       string `json:"type"`
	Brand      string `json:"brand"`
}
