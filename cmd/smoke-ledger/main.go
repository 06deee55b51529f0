package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dmh.org/accounts/internal/auth"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

type account struct {
	ID          int64  `json:"id"`
	RoutingCode string `json:"routing_code"`
	Alias       string `json:"alias"`
	Balance     string `json:"balance"`
}

func (c *client) call(ctx context.Context, method, path string, body any, headers map[string]string, want int, out any) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s %s: %v", method, path, err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		log.Fatalf("request %s %s: %v", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

// open creates the principal's account, links a card and funds it.
func (c *client) open(ctx context.Context, amount string) account {
	var acc account
	c.call(ctx, http.MethodPost, "/v1/accounts", nil, nil, http.StatusCreated, &acc)

	var card struct {
		ID int64 `json:"id"`
	}
	prefix := "/v1/accounts/" + strconv.FormatInt(acc.ID, 10)
	c.call(ctx, http.MethodPost, prefix+"/cards", map[string]any{
		"last_four":   "4242",
		"holder_name": "Smoke Test",
		"expires_on":  time.Now().UTC().AddDate(2, 0, 0).Format("2006-01-02"),
		"type":        "DEBIT",
		"brand":       "VISA",
	}, nil, http.StatusCreated, &card)

	c.call(ctx, http.MethodPost, prefix+"/deposits", map[string]any{
		"card_id": card.ID,
		"amount":  amount,
	}, map[string]string{"Idempotency-Key": uuid.NewString()}, http.StatusCreated, nil)

	c.call(ctx, http.MethodGet, prefix, nil, nil, http.StatusOK, &acc)
	return acc
}

func (c *client) reconciled(ctx context.Context, id int64) bool {
	var rec struct {
		Balanced bool `json:"balanced"`
	}
	c.call(ctx, http.MethodGet, "/v1/accounts/"+strconv.FormatInt(id, 10)+"/reconciliation", nil, nil, http.StatusOK, &rec)
	return rec.Balanced
}

func main() {
	log.SetFlags(0)
	base := os.Getenv("ACCOUNTS_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	verifier, err := auth.NewVerifier(os.Getenv("ACCOUNTS_AUTH_SECRET"), os.Getenv("ACCOUNTS_AUTH_ISSUER"))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	newClient := func(principal string) *client {
		token, err := verifier.Issue(principal, 5*time.Minute)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		return &client{base: base, token: token, http: httpClient}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run := uuid.NewString()
	alice := newClient("smoke-a-" + run)
	bob := newClient("smoke-b-" + run)

	accA := alice.open(ctx, "1000.00")
	accB := bob.open(ctx, "500.00")

	amount := decimal.RequireFromString("100.00")
	alice.call(ctx, http.MethodPost, "/v1/accounts/"+strconv.FormatInt(accA.ID, 10)+"/transfers", map[string]any{
		"destination": accB.Alias,
		"amount":      amount.StringFixed(2),
	}, map[string]string{"Idempotency-Key": uuid.NewString()}, http.StatusOK, nil)

	alice.call(ctx, http.MethodGet, "/v1/accounts/me", nil, nil, http.StatusOK, &accA)
	bob.call(ctx, http.MethodGet, "/v1/accounts/me", nil, nil, http.StatusOK, &accB)

	balA := decimal.RequireFromString(accA.Balance)
	balB := decimal.RequireFromString(accB.Balance)
	if !balA.Add(balB).Equal(decimal.NewFromInt(1500)) {
		log.Fatalf("ledger conservation failed: %s + %s", accA.Balance, accB.Balance)
	}
	if accA.Balance != "900.00" || accB.Balance != "600.00" {
		log.Fatalf("unexpected balances: A=%s B=%s", accA.Balance, accB.Balance)
	}

	// Bob must not be able to read Alice's account.
	bob.call(ctx, http.MethodGet, "/v1/accounts/"+strconv.FormatInt(accA.ID, 10), nil, nil, http.StatusForbidden, nil)

	if !alice.reconciled(ctx, accA.ID) || !bob.reconciled(ctx, accB.ID) {
		log.Fatal("reconciliation reported a mismatch")
	}

	fmt.Printf("smoke test passed: accounts=%d,%d\n", accA.ID, accB.ID)
}
