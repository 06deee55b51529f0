package httpapi

import (
	"net/http"
	"time"

	"dmh.org/accounts/internal/audit"
	"dmh.org/accounts/internal/ledger"
)

func (a *API) listCards(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cards, err := a.svc.ListCards(r.Context(), id, principalOf(r))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(cards, cardDTO))
}

func (a *API) getCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cardID, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}
	c, err := a.svc.GetCard(r.Context(), id, cardID, principalOf(r))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cardDTO(c))
}

func (a *API) addCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req cardRequest
	if err := decodeJSON(w, r, a.schemas.card, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	expires, err := time.Parse(dateLayout, req.ExpiresOn)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "expires_on must be a date in YYYY-MM-DD form")
		return
	}

	c, err := a.svc.AddCard(r.Context(), id, principalOf(r), ledger.NewCard{
		LastFour:   req.LastFour,
		HolderName: req.HolderName,
		ExpiresOn:  expires,
		Type:       ledger.CardType(req.Type),
		Brand:      ledger.CardBrand(req.Brand),
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.CardAdded, map[string]any{
		"account_id": c.AccountID,
		"card_id":    c.ID,
		"brand":      string(c.Brand),
		"last_four":  c.LastFour,
	})
	writeJSON(w, http.StatusCreated, cardDTO(c))
}

// blockCard soft-deletes a card: it stays listed but can no longer fund deposits.
func (a *API) blockCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cardID, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}
	c, err := a.svc.BlockCard(r.Context(), id, cardID, principalOf(r))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.CardBlocked, map[string]any{
		"account_id": c.AccountID,
		"card_id":    c.ID,
	})
	writeJSON(w, http.StatusOK, cardDTO(c))
}
