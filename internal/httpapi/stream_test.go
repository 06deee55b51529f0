package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmh.org/accounts/internal/stream"
)

func TestEventsStreamsCommittedEntries(t *testing.T) {
	e := newTestAPI(t)
	acc, card := e.openFunded("alice", "10")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+accountPath(acc.ID, "/events"), nil)
	require.NoError(t, err)
	req.Header.Set(headerUserID, "alice")
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, ": stream started", lines.Text())

	require.Eventually(t, func() bool { return e.events.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	dep := e.post(accountPath(acc.ID, "/deposits"), map[string]any{"card_id": card.ID, "amount": "2.50"}, as("alice"))
	expectStatus(t, dep, http.StatusCreated)
	deposited := decode[depositResponse](t, dep)

	var event, data string
	for lines.Scan() {
		line := lines.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}
	require.NotEmpty(t, data)
	assert.Equal(t, "deposit", event)

	var got stream.Event
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, deposited.TransactionID, got.TransactionID)
	assert.Equal(t, "12.5", got.Balance.String())
}

func TestEventsRequiresOwnership(t *testing.T) {
	e := newTestAPI(t)
	acc, _ := e.openFunded("alice", "1")

	resp := e.get(accountPath(acc.ID, "/events"), nil, as("mallory"))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	off := newTestAPI(t, func(o *Options) { o.Events = nil })
	resp = off.get("/v1/accounts/1/events", nil, as("alice"))
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}
