package httpapi

import (
	"errors"
	"net/http"

	"dmh.org/accounts/internal/audit"
	"dmh.org/accounts/internal/ledger"
	"dmh.org/accounts/internal/obs"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleLedgerError renders a service error. Forbidden responses never say
// who owns the resource.
func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *ledger.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		writeErrorBody(w, r, http.StatusConflict, map[string]any{
			"error":     "insufficient funds",
			"available": insufficient.Available.StringFixed(2),
			"requested": insufficient.Requested.StringFixed(2),
		})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, r, http.StatusConflict, "insufficient funds")
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidOperation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrForbidden):
		_ = audit.LogEvent(r.Context(), audit.OwnershipDenied, map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, ledger.ErrAlreadyExists), errors.Is(err, ledger.ErrIdempotencyConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrExhausted):
		obs.Log("error", "identifier generation exhausted", map[string]any{
			"request_id": RequestIDFromContext(r),
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "could not allocate account identifiers")
	default:
		obs.Log("error", "request failed", map[string]any{
			"request_id": RequestIDFromContext(r),
			"method":     r.Method,
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
