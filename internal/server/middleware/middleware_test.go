package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(RequestID(r.Context())))
})

func TestAuth(t *testing.T) {
	h := Auth("k", "/api/health")(ok)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"public path", "/api/health", nil, http.StatusOK},
		{"missing token", "/api/consensus", nil, http.StatusUnauthorized},
		{"wrong token", "/api/consensus", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key header", "/api/consensus", map[string]string{"X-API-Key": "k"}, http.StatusOK},
		{"bearer", "/api/consensus", map[string]string{"Authorization": "bearer k"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	open := Auth("")(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/consensus", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingAssignsRequestID(t *testing.T) {
	h := Logging(discard())(Auth("k")(ok))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/consensus", nil))

	id := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	var body struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing authentication token", body.Error)
	assert.Equal(t, id, body.RequestID)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	Logging(discard())(ok).ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc", rec.Body.String())
}

type stubLimiter struct {
	allow bool
	err   error
}

func (s stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return s.allow, s.err
}

func (s stubLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit(t *testing.T) {
	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/consensus", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		return r
	}

	rec := httptest.NewRecorder()
	RateLimit(stubLimiter{allow: false}, 10, time.Minute, nil, discard())(ok).ServeHTTP(rec, req())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	RateLimit(stubLimiter{err: errors.New("redis down")}, 10, time.Minute, nil, discard())(ok).ServeHTTP(rec, req())
	assert.Equal(t, http.StatusOK, rec.Code)
}

type keyLimiter struct{ keys []string }

func (k *keyLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	k.keys = append(k.keys, key)
	return true, nil
}

func (k *keyLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	lim := &keyLimiter{}
	h := RateLimit(lim, 10, time.Minute, nil, discard())(ok)
	for _, spoof := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		r := httptest.NewRequest(http.MethodGet, "/api/consensus", nil)
		r.RemoteAddr = "192.0.2.1:5555"
		r.Header.Set("X-Forwarded-For", spoof)
		h.ServeHTTP(httptest.NewRecorder(), r)
	}
	assert.Equal(t, []string{"api:192.0.2.1", "api:192.0.2.1", "api:192.0.2.1"}, lim.keys)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	r.Header.Set("X-Real-IP", "198.51.100.2")
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "192.0.2.1", clientIP(r, nil), "untrusted peer headers are ignored")

	trusted, err := ParseTrustedProxies([]string{"192.0.2.1", "10.0.0.0/8"})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", clientIP(r, trusted))

	r.Header.Set("X-Forwarded-For", "198.18.0.9, 203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(r, trusted), "left hops are client controlled")

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "198.51.100.2", clientIP(r, trusted))
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.1.2.3/8", " ::1 ", "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "::1/128", got[1].String())
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/consensus", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/consensus", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
