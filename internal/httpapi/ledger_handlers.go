package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dmh.org/accounts/internal/audit"
	"dmh.org/accounts/internal/ledger"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 128
	maxListLimit         = 100
)

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.CreateAccount(r.Context(), principalOf(r))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.AccountCreated, map[string]any{
		"account_id":   acc.ID,
		"routing_code": acc.RoutingCode,
		"alias":        acc.Alias,
	})
	w.Header().Set("Location", "/v1/accounts/"+strconv.FormatInt(acc.ID, 10))
	writeJSON(w, http.StatusCreated, accountDTO(acc))
}

func (a *API) getMyAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.GetAccountByOwner(r.Context(), principalOf(r))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(acc))
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	acc, err := a.svc.AccountForPrincipal(r.Context(), id, principalOf(r))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(acc))
}

func (a *API) updateAlias(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req aliasRequest
	if err := decodeJSON(w, r, a.schemas.alias, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := a.svc.UpdateAlias(r.Context(), id, principalOf(r), req.Alias)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.AliasUpdated, map[string]any{
		"account_id": acc.ID,
		"alias":      acc.Alias,
	})
	writeJSON(w, http.StatusOK, accountDTO(acc))
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), ledger.DefaultListLimit, 1, maxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.svc.AccountForPrincipal(r.Context(), id, principalOf(r)); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	txs, err := a.svc.ListTransactions(r.Context(), id, limit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(txs, transactionDTO))
}

func (a *API) listActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	filter, err := parseActivityFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	txs, err := a.svc.ListActivity(r.Context(), id, principalOf(r), filter)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(txs, transactionDTO))
}

func (a *API) getActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "txID")
	if !ok {
		return
	}
	t, err := a.svc.GetActivity(r.Context(), id, txID, principalOf(r))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionDTO(t))
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	idem, err := idempotencyKey(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req depositRequest
	if err := decodeJSON(w, r, a.schemas.deposit, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.Deposit(r.Context(), ledger.DepositRequest{
		AccountID:      id,
		Principal:      principalOf(r),
		CardID:         req.CardID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: idem,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	markIdempotent(w, idem, res.Replayed)

	_ = audit.LogEvent(r.Context(), audit.DepositPosted, map[string]any{
		"account_id":      res.AccountID,
		"transaction_id":  res.TransactionID,
		"card_id":         res.CardID,
		"amount":          money(res.Amount),
		"idempotency_key": idem,
		"replayed":        res.Replayed,
	})
	writeJSON(w, http.StatusCreated, depositDTO(res))
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	idem, err := idempotencyKey(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, a.schemas.transfer, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.Transfer(r.Context(), ledger.TransferRequest{
		SourceAccountID: id,
		Principal:       principalOf(r),
		Destination:     req.Destination,
		Amount:          req.Amount,
		Description:     req.Description,
		IdempotencyKey:  idem,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrInvalidOperation) {
			_ = audit.LogEvent(r.Context(), audit.TransferRejected, map[string]any{
				"account_id":  id,
				"destination": req.Destination,
				"amount":      money(req.Amount),
				"reason":      err.Error(),
			})
		}
		handleLedgerError(w, r, err)
		return
	}
	markIdempotent(w, idem, res.Replayed)

	_ = audit.LogEvent(r.Context(), audit.TransferPosted, map[string]any{
		"account_id":      res.SourceAccountID,
		"transaction_id":  res.TransactionID,
		"destination":     res.Destination,
		"amount":          money(res.Amount),
		"idempotency_key": idem,
		"replayed":        res.Replayed,
	})
	writeJSON(w, http.StatusOK, transferDTO(res))
}

func (a *API) recentRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), ledger.DefaultListLimit, 1, maxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	out, err := a.svc.RecentRecipients(r.Context(), id, principalOf(r), limit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(out, recipientDTO))
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := a.svc.Reconcile(r.Context(), id, principalOf(r))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !rec.Balanced {
		_ = audit.LogEvent(r.Context(), audit.ReconcileMismatch, map[string]any{
			"account_id": rec.AccountID,
			"balance":    money(rec.Balance),
			"ledger_sum": money(rec.LedgerSum),
		})
	}
	writeJSON(w, http.StatusOK, reconciliationDTO(rec))
}

func parseActivityFilter(r *http.Request) (*ledger.ActivityFilter, error) {
	q := r.URL.Query()
	var f ledger.ActivityFilter
	var err error
	if raw := q.Get("type"); raw != "" {
		if f.Type, err = ledger.ParseTransactionType(raw); err != nil {
			return nil, err
		}
	}
	if raw := q.Get("amount_range"); raw != "" {
		if f.AmountRange, err = ledger.ParseAmountRange(raw); err != nil {
			return nil, err
		}
	}
	if f.From, err = parseDate(q.Get("date_from"), "date_from"); err != nil {
		return nil, err
	}
	if f.To, err = parseDate(q.Get("date_to"), "date_to"); err != nil {
		return nil, err
	}
	if f.Limit, err = parsePositiveInt(q.Get("limit"), 0, 1, 1000); err != nil {
		return nil, err
	}
	return &f, nil
}

func parseDate(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date in YYYY-MM-DD form", name)
	}
	return t, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, fmt.Errorf("limit must be between %d and %d", min, max)
	}
	return val, nil
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return 0, false
	}
	return id, true
}

func idempotencyKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		return "", errors.New("Idempotency-Key too long")
	}
	return key, nil
}

func markIdempotent(w http.ResponseWriter, key string, replayed bool) {
	if key == "" {
		return
	}
	w.Header().Set(headerIdempotencyKey, key)
	if replayed {
		w.Header().Set(headerReplayed, "true")
	}
}
