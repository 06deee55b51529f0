package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"dmh.org/accounts/internal/ledger"
)

const (
	accountColumns = `id, owner_id, routing_code, alias, balance, created_at`
	txColumns      = `id, account_id, type, amount, description, status, counterparty,
		counterparty_account_id, card_id, idempotency_key, balance_after, created_at`
	cardColumns = `id, account_id, last_four, holder_name, expires_on, card_type, brand, status, created_at`
)

// reader runs the read queries against either the pool or an open transaction.
type reader struct {
	q queryer
	d Dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r reader) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.Rebind(query), args...)
}

func (r reader) AccountByID(ctx context.Context, id int64) (ledger.Account, error) {
	return r.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (r reader) AccountByOwner(ctx context.Context, ownerID string) (ledger.Account, error) {
	return r.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = ?`, ownerID)
}

func (r reader) AccountByRoutingOrAlias(ctx context.Context, token string) (ledger.Account, error) {
	return r.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE routing_code = ? OR alias = ? ORDER BY id LIMIT 1`, token, token)
}

func (r reader) account(ctx context.Context, query string, args ...any) (ledger.Account, error) {
	acc, err := scanAccount(r.queryRow(ctx, query, args...))
	if err != nil {
		return ledger.Account{}, notFound(err, ledger.ErrAccountNotFound)
	}
	return acc, nil
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var acc ledger.Account
	if err := row.Scan(&acc.ID, &acc.OwnerID, &acc.RoutingCode, &acc.Alias, &acc.Balance, &acc.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	acc.CreatedAt = acc.CreatedAt.UTC()
	return acc, nil
}

func (r reader) Transactions(ctx context.Context, accountID int64, q ledger.LogQuery) ([]ledger.Transaction, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + txColumns + ` FROM transactions WHERE account_id = ?`)
	args := []any{accountID}
	if q.Type != "" {
		b.WriteString(` AND type = ?`)
		args = append(args, string(q.Type))
	}
	b.WriteString(` ORDER BY created_at DESC, id DESC`)
	if q.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := r.q.QueryContext(ctx, r.d.Rebind(b.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r reader) Transaction(ctx context.Context, accountID, txID int64) (ledger.Transaction, error) {
	t, err := scanTransaction(r.queryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ? AND account_id = ?`, txID, accountID))
	if err != nil {
		return ledger.Transaction{}, notFound(err, ledger.ErrTransactionNotFound)
	}
	return t, nil
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		t            ledger.Transaction
		typ, status  string
		counterparty sql.NullInt64
		card         sql.NullInt64
		key          sql.NullString
	)
	err := row.Scan(&t.ID, &t.AccountID, &typ, &t.Amount, &t.Description, &status, &t.Counterparty,
		&counterparty, &card, &key, &t.BalanceAfter, &t.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.Type = ledger.TransactionType(typ)
	t.Status = ledger.TransactionStatus(status)
	t.CounterpartyAccountID = counterparty.Int64
	t.CardID = card.Int64
	t.IdempotencyKey = key.String
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (r reader) Cards(ctx context.Context, accountID int64) ([]ledger.Card, error) {
	rows, err := r.q.QueryContext(ctx, r.d.Rebind(`SELECT `+cardColumns+` FROM cards WHERE account_id = ? ORDER BY id`), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r reader) Card(ctx context.Context, accountID, cardID int64) (ledger.Card, error) {
	c, err := scanCard(r.queryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ? AND account_id = ?`, cardID, accountID))
	if err != nil {
		return ledger.Card{}, notFound(err, ledger.ErrCardNotFound)
	}
	return c, nil
}

func scanCard(row rowScanner) (ledger.Card, error) {
	var (
		c                  ledger.Card
		typ, brand, status string
	)
	if err := row.Scan(&c.ID, &c.AccountID, &c.LastFour, &c.HolderName, &c.ExpiresOn, &typ, &brand, &status, &c.CreatedAt); err != nil {
		return ledger.Card{}, err
	}
	c.Type = ledger.CardType(typ)
	c.Brand = ledger.CardBrand(brand)
	c.Status = ledger.CardStatus(status)
	c.ExpiresOn = c.ExpiresOn.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}
