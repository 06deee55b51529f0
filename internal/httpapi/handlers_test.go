package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmh.org/accounts/internal/auth"
	"dmh.org/accounts/internal/ledger"
	"dmh.org/accounts/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type testEnv struct {
	*apiClient
	verifier *auth.Verifier
	events   *stream.Stream
}

func newTestAPI(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()

	verifier, err := auth.NewVerifier("test-secret", "test")
	require.NoError(t, err)
	events := stream.New(16)
	svc := ledger.NewService(ledger.NewInMemory(), ledger.WithPublisher(events))

	opts := Options{
		Version:         "test",
		Storage:         "memory",
		Events:          events,
		Verifier:        verifier,
		TrustUserHeader: true,
		Limiter:         NewLocalLimiter(1000, 1000),
	}
	for _, m := range mutate {
		m(&opts)
	}
	api := New(svc, opts)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		apiClient: &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		verifier:  verifier,
		events:    events,
	}
}

func as(user string) map[string]string {
	return map[string]string{headerUserID: user}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	require.NoError(c.t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
	return v
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		r.Body.Close()
		t.Fatalf("status = %d, want %d (body %v)", r.StatusCode, want, body)
	}
}

func accountPath(id int64, rest string) string {
	return "/v1/accounts/" + strconv.FormatInt(id, 10) + rest
}

// openFunded creates an account for user, links a card and deposits amount.
func (e *testEnv) openFunded(user, amount string) (accountResponse, cardResponse) {
	e.t.Helper()
	resp := e.post("/v1/accounts", nil, as(user))
	expectStatus(e.t, resp, http.StatusCreated)
	acc := decode[accountResponse](e.t, resp)

	resp = e.post(accountPath(acc.ID, "/cards"), map[string]any{
		"last_four":   "1234",
		"holder_name": "Test Holder",
		"expires_on":  time.Now().UTC().AddDate(3, 0, 0).Format(dateLayout),
		"type":        "DEBIT",
		"brand":       "VISA",
	}, as(user))
	expectStatus(e.t, resp, http.StatusCreated)
	card := decode[cardResponse](e.t, resp)

	resp = e.post(accountPath(acc.ID, "/deposits"), map[string]any{
		"card_id": card.ID,
		"amount":  amount,
	}, as(user))
	expectStatus(e.t, resp, http.StatusCreated)
	resp.Body.Close()
	return acc, card
}

func TestAPIAccountsTransferFlow(t *testing.T) {
	e := newTestAPI(t)

	alice, card := e.openFunded("alice", "1000.00")
	assert.Len(t, alice.RoutingCode, 22)
	assert.Equal(t, "0.00", alice.Balance)
	assert.Equal(t, "**** **** **** 1234", card.Number)
	bob, _ := e.openFunded("bob", "500")

	resp := e.post("/v1/accounts", nil, as("alice"))
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = e.post(accountPath(alice.ID, "/transfers"), map[string]any{
		"destination": bob.Alias,
		"amount":      "100.00",
	}, as("alice"))
	expectStatus(t, resp, http.StatusOK)
	tr := decode[transferResponse](t, resp)
	assert.Equal(t, "900.00", tr.Balance)
	assert.Equal(t, "100.00", tr.Amount)
	assert.Equal(t, bob.Alias, tr.Destination)
	assert.Equal(t, "Transfer to Alias: "+bob.Alias, tr.Description)

	resp = e.get("/v1/accounts/me", nil, as("bob"))
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, "600.00", decode[accountResponse](t, resp).Balance)

	resp = e.get(accountPath(bob.ID, "/transactions"), nil, as("bob"))
	expectStatus(t, resp, http.StatusOK)
	bobTxs := decode[listResponse[transactionResponse]](t, resp).Items
	require.Len(t, bobTxs, 2)
	assert.Equal(t, "TRANSFER_IN", bobTxs[0].Type)
	assert.Equal(t, "Transfer from "+alice.RoutingCode, bobTxs[0].Description)
	assert.Equal(t, "COMPLETED", bobTxs[0].Status)

	resp = e.get(accountPath(alice.ID, "/activity"), url.Values{"type": {"transfer_out"}}, as("alice"))
	expectStatus(t, resp, http.StatusOK)
	activity := decode[listResponse[transactionResponse]](t, resp).Items
	require.Len(t, activity, 1)
	assert.Equal(t, tr.TransactionID, activity[0].ID)

	resp = e.get(accountPath(alice.ID, "/activity/"+strconv.FormatInt(tr.TransactionID, 10)), nil, as("alice"))
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, "100.00", decode[transactionResponse](t, resp).Amount)

	resp = e.get(accountPath(alice.ID, "/transfers/recipients"), nil, as("alice"))
	expectStatus(t, resp, http.StatusOK)
	recipients := decode[listResponse[recipientResponse]](t, resp).Items
	require.Len(t, recipients, 1)
	assert.Equal(t, bob.Alias, recipients[0].Destination)

	for _, acc := range []struct {
		id   int64
		user string
	}{{alice.ID, "alice"}, {bob.ID, "bob"}} {
		resp = e.get(accountPath(acc.id, "/reconciliation"), nil, as(acc.user))
		expectStatus(t, resp, http.StatusOK)
		assert.True(t, decode[reconciliationResponse](t, resp).Balanced)
	}
}

func TestAPIIdempotentDeposit(t *testing.T) {
	e := newTestAPI(t)
	acc, card := e.openFunded("alice", "10")

	headers := as("alice")
	headers[headerIdempotencyKey] = "dep-1"
	body := map[string]any{"card_id": card.ID, "amount": 25.5}

	first := e.post(accountPath(acc.ID, "/deposits"), body, headers)
	expectStatus(t, first, http.StatusCreated)
	assert.Equal(t, "dep-1", first.Header.Get(headerIdempotencyKey))
	assert.Empty(t, first.Header.Get(headerReplayed))
	dep := decode[depositResponse](t, first)
	assert.Equal(t, "35.50", dep.Balance)

	again := e.post(accountPath(acc.ID, "/deposits"), body, headers)
	expectStatus(t, again, http.StatusCreated)
	assert.Equal(t, "true", again.Header.Get(headerReplayed))
	replayed := decode[depositResponse](t, again)
	assert.Equal(t, dep.TransactionID, replayed.TransactionID)
	assert.Equal(t, "35.50", replayed.Balance)

	conflict := e.post(accountPath(acc.ID, "/deposits"), map[string]any{"card_id": card.ID, "amount": "1.00"}, headers)
	expectStatus(t, conflict, http.StatusConflict)
	conflict.Body.Close()

	resp := e.get("/v1/accounts/me", nil, as("alice"))
	assert.Equal(t, "35.50", decode[accountResponse](t, resp).Balance)
}

func TestAPIErrorRendering(t *testing.T) {
	e := newTestAPI(t)
	alice, card := e.openFunded("alice", "50")
	bob, _ := e.openFunded("bob", "0.01")

	t.Run("forbidden hides the owner", func(t *testing.T) {
		resp := e.get(accountPath(alice.ID, ""), nil, as("bob"))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		body := decode[map[string]any](t, resp)
		assert.Equal(t, "forbidden", body["error"])
		assert.NotEmpty(t, body["request_id"])
		assert.NotContains(t, body, "owner_id")
	})

	t.Run("insufficient funds", func(t *testing.T) {
		resp := e.post(accountPath(alice.ID, "/transfers"), map[string]any{
			"destination": bob.RoutingCode,
			"amount":      "50.01",
		}, as("alice"))
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		body := decode[map[string]any](t, resp)
		assert.Equal(t, "insufficient funds", body["error"])
		assert.Equal(t, "50.00", body["available"])
		assert.Equal(t, "50.01", body["requested"])
	})

	t.Run("own routing code", func(t *testing.T) {
		resp := e.post(accountPath(alice.ID, "/transfers"), map[string]any{
			"destination": alice.RoutingCode,
			"amount":      "1",
		}, as("alice"))
		expectStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("unknown destination", func(t *testing.T) {
		resp := e.post(accountPath(alice.ID, "/transfers"), map[string]any{
			"destination": "no.such.alias",
			"amount":      "1",
		}, as("alice"))
		expectStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})

	t.Run("blocked card", func(t *testing.T) {
		resp := e.do(http.MethodDelete, accountPath(alice.ID, "/cards/"+strconv.FormatInt(card.ID, 10)), nil, as("alice"))
		expectStatus(t, resp, http.StatusOK)
		assert.Equal(t, "BLOCKED", decode[cardResponse](t, resp).Status)

		resp = e.post(accountPath(alice.ID, "/deposits"), map[string]any{"card_id": card.ID, "amount": "5"}, as("alice"))
		expectStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	bad := []struct {
		name string
		path string
		body string
	}{
		{"unknown field", "/transfers", `{"destination":"a.b.c","amount":"1","memo":"x"}`},
		{"three decimals", "/transfers", `{"destination":"a.b.c","amount":"1.005"}`},
		{"negative", "/transfers", `{"destination":"a.b.c","amount":"-4"}`},
		{"missing amount", "/transfers", `{"destination":"a.b.c"}`},
		{"not json", "/transfers", `{"destination":`},
		{"empty body", "/deposits", ``},
		{"trailing data", "/deposits", `{"card_id":1,"amount":"1"} {}`},
		{"card id as string", "/deposits", `{"card_id":"1","amount":"1"}`},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			resp := e.post(accountPath(alice.ID, tc.path), tc.body, as("alice"))
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[map[string]any](t, resp)
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["request_id"])
		})
	}

	t.Run("bad query", func(t *testing.T) {
		for _, q := range []url.Values{
			{"type": {"REFUND"}},
			{"amount_range": {"RANGE_1_2"}},
			{"date_from": {"01/03/2025"}},
			{"limit": {"0"}},
		} {
			resp := e.get(accountPath(alice.ID, "/activity"), q, as("alice"))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q.Encode())
			resp.Body.Close()
		}
	})

	t.Run("non numeric id", func(t *testing.T) {
		resp := e.get("/v1/accounts/abc", nil, as("alice"))
		expectStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})
}

func TestAPIUpdateAlias(t *testing.T) {
	e := newTestAPI(t)
	alice, _ := e.openFunded("alice", "1")
	bob, _ := e.openFunded("bob", "1")

	resp := e.do(http.MethodPatch, accountPath(alice.ID, ""), map[string]any{"alias": "Sol.Luna.Estrella"}, as("alice"))
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, "sol.luna.estrella", decode[accountResponse](t, resp).Alias)

	resp = e.do(http.MethodPatch, accountPath(bob.ID, ""), map[string]any{"alias": "sol.luna.estrella"}, as("bob"))
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = e.do(http.MethodPatch, accountPath(bob.ID, ""), map[string]any{"alias": "not an alias"}, as("bob"))
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = e.post(accountPath(bob.ID, "/transfers"), map[string]any{
		"destination": "sol.luna.estrella",
		"amount":      "1.00",
	}, as("bob"))
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAPIAuthentication(t *testing.T) {
	e := newTestAPI(t)

	resp := e.post("/v1/accounts", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	token, err := e.verifier.Issue("carol", time.Minute)
	require.NoError(t, err)
	resp = e.post("/v1/accounts", nil, map[string]string{authHeader: "Bearer " + token})
	expectStatus(t, resp, http.StatusCreated)
	assert.Equal(t, "carol", decode[accountResponse](t, resp).OwnerID)

	// A bad token is rejected even when the trusted header is present.
	resp = e.get("/v1/accounts/me", nil, map[string]string{authHeader: "Bearer nope", headerUserID: "carol"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = e.get("/v1/accounts/me", nil, map[string]string{authHeader: "Basic abc"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	strict := newTestAPI(t, func(o *Options) { o.TrustUserHeader = false })
	resp = strict.post("/v1/accounts", nil, as("carol"))
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return errors.New("boom") }

func TestAPIOpsEndpoints(t *testing.T) {
	e := newTestAPI(t)

	resp := e.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])

	resp = e.get("/readyz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = e.get("/v1/info", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	info := decode[map[string]any](t, resp)
	assert.Equal(t, "memory", info["storage"])
	assert.Equal(t, "test", info["version"])

	resp = e.get("/metrics", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = e.get("/nowhere", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
	resp.Body.Close()

	down := newTestAPI(t, func(o *Options) { o.Ready = failingReadiness{} })
	resp = down.get("/readyz", nil, nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}
