package sqlstore

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"dmh.org/accounts/internal/ledger"
)

// txStore implements ledger.Tx on one open *sql.Tx.
type txStore struct {
	reader
	tx *sql.Tx
}

func (t *txStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.Rebind(query), args...)
}

func (t *txStore) LockAccount(ctx context.Context, id int64) (ledger.Account, error) {
	return t.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`+t.d.LockSuffix, id)
}

func (t *txStore) SetBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	res, err := t.exec(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, balance, id)
	if err != nil {
		return err
	}
	return requireOne(res, ledger.ErrAccountNotFound)
}

func (t *txStore) AppendTransaction(ctx context.Context, rec ledger.Transaction) (ledger.Transaction, error) {
	err := t.queryRow(ctx, `
		INSERT INTO transactions (account_id, type, amount, description, status, counterparty,
			counterparty_account_id, card_id, idempotency_key, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		rec.AccountID, string(rec.Type), rec.Amount, rec.Description, string(rec.Status), rec.Counterparty,
		nullInt(rec.CounterpartyAccountID), nullInt(rec.CardID), nullString(rec.IdempotencyKey),
		rec.BalanceAfter, rec.CreatedAt.UTC(),
	).Scan(&rec.ID)
	if err != nil {
		return ledger.Transaction{}, t.d.mapUnique(err)
	}
	return rec, nil
}

func (t *txStore) TransactionByIdempotencyKey(ctx context.Context, accountID int64, key string) (ledger.Transaction, error) {
	rec, err := scanTransaction(t.queryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE account_id = ? AND idempotency_key = ?`, accountID, key))
	if err != nil {
		return ledger.Transaction{}, notFound(err, ledger.ErrTransactionNotFound)
	}
	return rec, nil
}

func (t *txStore) RoutingCodeExists(ctx context.Context, code string) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM accounts WHERE routing_code = ?`, code)
}

func (t *txStore) AliasExists(ctx context.Context, alias string) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM accounts WHERE alias = ?`, alias)
}

func (t *txStore) exists(ctx context.Context, query string, arg any) (bool, error) {
	var one int
	err := t.queryRow(ctx, query, arg).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (t *txStore) InsertAccount(ctx context.Context, acc ledger.Account) (ledger.Account, error) {
	err := t.queryRow(ctx, `
		INSERT INTO accounts (owner_id, routing_code, alias, balance, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		acc.OwnerID, acc.RoutingCode, acc.Alias, acc.Balance, acc.CreatedAt.UTC(),
	).Scan(&acc.ID)
	if err != nil {
		return ledger.Account{}, t.d.mapUnique(err)
	}
	return acc, nil
}

func (t *txStore) UpdateAlias(ctx context.Context, id int64, alias string) error {
	res, err := t.exec(ctx, `UPDATE accounts SET alias = ? WHERE id = ?`, alias, id)
	if err != nil {
		return t.d.mapUnique(err)
	}
	return requireOne(res, ledger.ErrAccountNotFound)
}

func (t *txStore) InsertCard(ctx context.Context, c ledger.Card) (ledger.Card, error) {
	err := t.queryRow(ctx, `
		INSERT INTO cards (account_id, last_four, holder_name, expires_on, card_type, brand, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		c.AccountID, c.LastFour, c.HolderName, c.ExpiresOn.UTC(), string(c.Type), string(c.Brand), string(c.Status), c.CreatedAt.UTC(),
	).Scan(&c.ID)
	if err != nil {
		return ledger.Card{}, err
	}
	return c, nil
}

func (t *txStore) SetCardStatus(ctx context.Context, accountID, cardID int64, status ledger.CardStatus) error {
	res, err := t.exec(ctx, `UPDATE cards SET status = ? WHERE id = ? AND account_id = ?`, string(status), cardID, accountID)
	if err != nil {
		return err
	}
	return requireOne(res, ledger.ErrCardNotFound)
}

func requireOne(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
