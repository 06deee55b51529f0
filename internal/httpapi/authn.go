package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"dmh.org/accounts/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withPrincipal resolves the caller from a bearer token or, when the gateway
// is trusted, from X-User-Id. A presented token is never bypassed by the
// header.
func (a *API) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		var principal string
		if raw := r.Header.Get(authHeader); raw != "" && a.verifier != nil {
			token, err := extractBearerToken(raw)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			principal, err = a.verifier.Verify(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
		} else if a.trustHdr {
			principal = strings.TrimSpace(r.Header.Get(headerUserID))
		}

		if principal == "" {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalOf(r *http.Request) string {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
