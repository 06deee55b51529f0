// Package audit writes one JSON line per security-relevant ledger event.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"

	"dmh.org/accounts/internal/auth"
	"dmh.org/accounts/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event names emitted by the HTTP layer.
const (
	AccountCreated    = "account.created"
	AliasUpdated      = "account.alias_updated"
	DepositPosted     = "ledger.deposit"
	TransferPosted    = "ledger.transfer"
	TransferRejected  = "ledger.transfer_rejected"
	CardAdded         = "card.added"
	CardBlocked       = "card.blocked"
	OwnershipDenied   = "access.forbidden"
	ReconcileMismatch = "ledger.reconcile_mismatch"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and principal context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  event,
		"fields": map[string]any{},
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		entry["principal"] = principal
	}
	if len(fields) > 0 {
		entry["fields"] = maps.Clone(fields)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
