package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dmh.org/accounts/internal/auth"
	"dmh.org/accounts/internal/ledger"
	"dmh.org/accounts/internal/obs"
	"dmh.org/accounts/internal/stream"
)

const serviceName = "accounts-api"

// Readiness reports whether the service can take traffic.
type Readiness interface {
	Check(ctx context.Context) error
}

// Pinger is satisfied by the SQL-backed stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings the store when there is one to ping.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Options configures the HTTP layer. Zero values disable the optional parts.
type Options struct {
	Version string
	Storage string
	Ready   Readiness
	Events  *stream.Stream

	Verifier        *auth.Verifier
	TrustUserHeader bool

	Limiter     Limiter
	CORSOrigins []string
}

// API is the HTTP layer over the ledger service.
type API struct {
	router   chi.Router
	svc      *ledger.Service
	ready    Readiness
	events   *stream.Stream
	verifier *auth.Verifier
	trustHdr bool
	limiter  Limiter
	schemas  *schemas
	version  string
	storage  string
}

func New(svc *ledger.Service, opts Options) *API {
	a := &API{
		svc:      svc,
		ready:    opts.Ready,
		events:   opts.Events,
		verifier: opts.Verifier,
		trustHdr: opts.TrustUserHeader,
		limiter:  opts.Limiter,
		schemas:  mustCompileSchemas(),
		version:  opts.Version,
		storage:  opts.Storage,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", headerUserID, headerRequestID},
		ExposedHeaders: []string{"Idempotency-Key", "Idempotent-Replayed", "Retry-After", headerRequestID, "Location"},
		MaxAge:         600,
	}))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1/accounts", func(r chi.Router) {
		if a.limiter != nil {
			r.Use(RateLimit(a.limiter))
		}
		r.Use(a.withPrincipal)

		r.Post("/", a.createAccount)
		r.Get("/me", a.getMyAccount)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getAccount)
			r.Patch("/", a.updateAlias)
			r.Get("/transactions", a.listTransactions)
			r.Get("/activity", a.listActivity)
			r.Get("/activity/{txID}", a.getActivity)
			r.Post("/deposits", a.deposit)
			r.Post("/transfers", a.transfer)
			r.Get("/transfers/recipients", a.recentRecipients)
			r.Get("/reconciliation", a.reconcile)
			r.Get("/events", a.Events)
			r.Get("/cards", a.listCards)
			r.Post("/cards", a.addCard)
			r.Get("/cards/{cardID}", a.getCard)
			r.Delete("/cards/{cardID}", a.blockCard)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	a.router = r
	return a
}

// Handler returns the root handler wrapped with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"storage": a.storage,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
