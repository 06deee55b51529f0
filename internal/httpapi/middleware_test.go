package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmh.org/accounts/internal/ids"
	"dmh.org/accounts/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	origWriter, origFlags := logger.Writer(), logger.Flags()
	var buf bytes.Buffer
	logger.SetFlags(0)
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetOutput(origWriter)
		logger.SetFlags(origFlags)
	})
	return &buf
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitExceeded(t *testing.T) {
	handler := RequestID(RateLimit(NewLocalLimiter(1, 1))(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.Equal(t, "1", rr2.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.NotEmpty(t, body["request_id"])

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	assert.Equal(t, http.StatusOK, rr3.Code, "buckets are per client")
}

func TestLocalLimiterRefillsAndSweeps(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(2, 1)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, retry, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, float64(500*time.Millisecond), float64(retry), float64(time.Millisecond))

	now = now.Add(500 * time.Millisecond)
	ok, _, _ = l.Allow(ctx, "a")
	assert.True(t, ok)

	now = now.Add(10 * time.Minute)
	_, _, _ = l.Allow(ctx, "b")
	assert.Len(t, l.buckets, 1, "idle buckets are swept")
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := &RedisLimiter{
		Redis:      client,
		Prefix:     "rl",
		Capacity:   2,
		RefillRate: 1,
		Now:        func() time.Time { return now },
	}
	ctx := context.Background()

	for i := range 2 {
		ok, _, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, retry, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, float64(time.Second), float64(retry), float64(10*time.Millisecond))
	assert.True(t, mr.Exists("rl:10.0.0.1"))

	now = now.Add(1500 * time.Millisecond)
	ok, _, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)

	handler := RequestID(RateLimit(l)(okHandler))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 192.168.0.1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRedisLimiterUnavailable(t *testing.T) {
	captureLog(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	handler := RequestID(RateLimit(&RedisLimiter{Redis: client, Capacity: 1, RefillRate: 1})(okHandler))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	buf := captureLog(t)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	for _, key := range []string{"ts", "level", "msg", "request_id", "method", "path", "status", "duration_ms"} {
		assert.Contains(t, entry, key)
	}
	assert.Equal(t, "request_complete", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, float64(2), entry["bytes"])
	assert.Equal(t, rr.Header().Get(headerRequestID), entry["request_id"])
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r)
	}))

	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"honoured", "req-123", true},
		{"generated when absent", "", false},
		{"replaced when it has spaces", "two words", false},
		{"replaced when too long", strings.Repeat("x", 129), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.incoming != "" {
				req.Header.Set(headerRequestID, tc.incoming)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, seen, rr.Header().Get(headerRequestID))
			if tc.keep {
				assert.Equal(t, tc.incoming, seen)
			} else {
				assert.True(t, ids.Valid(seen), seen)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestCORSPreflight(t *testing.T) {
	e := newTestAPI(t, func(o *Options) { o.CORSOrigins = []string{"https://app.example"} })

	req, err := http.NewRequest(http.MethodOptions, e.baseURL+"/v1/accounts", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}
