package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/priceoracle/internal/cache/local"
	"github.com/alanyoungcy/priceoracle/internal/domain"
	"github.com/alanyoungcy/priceoracle/internal/server/handler"
)

const apiKey = "secret"

type fakeCycles struct {
	latest  *domain.CycleOutcome
	history []domain.CycleRecord
	runErr  error
}

func (f *fakeCycles) RunCycle(context.Context) (domain.CycleOutcome, error) {
	if f.runErr != nil {
		return domain.CycleOutcome{}, f.runErr
	}
	median := 0.07515
	out := domain.CycleOutcome{
		Status: domain.CycleOK,
		Consensus: domain.ConsensusResult{
			CycleID:   "c1",
			Pair:      "KAS/USDT",
			MedianMid: &median,
		},
		Books: &domain.BookReport{CycleID: "c1", Books: []domain.BookAnalysis{}},
	}
	f.latest = &out
	return out, nil
}

func (f *fakeCycles) Latest() (domain.CycleOutcome, bool) {
	if f.latest == nil {
		return domain.CycleOutcome{}, false
	}
	return *f.latest, true
}

func (f *fakeCycles) History(_ context.Context, opts domain.ListOpts) ([]domain.CycleRecord, error) {
	return f.history, nil
}

type memBlobs map[string]string

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	v, ok := m[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m[path]
	return ok, nil
}

type memAudit []domain.AuditEntry

func (m memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if opts.Limit > 0 && opts.Limit < len(m) {
		return m[:opts.Limit], nil
	}
	return m, nil
}

func (m memAudit) ListByCycle(_ context.Context, cycleID string) ([]domain.AuditEntry, error) {
	out := []domain.AuditEntry{}
	for _, e := range m {
		if e.CycleID == cycleID {
			out = append(out, e)
		}
	}
	return out, nil
}

type testEnv struct {
	handler http.Handler
	cycles  *fakeCycles
	bus     *local.Bus
}

func newTestEnv(t *testing.T, checks map[string]handler.HealthCheck, rateLimit int) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cycles := &fakeCycles{}
	bus := local.NewBus()
	blobs := memBlobs{"archive/cycles/2026-01/cycles-20260101T000000Z.csv": "id,pair\n"}
	cfg := domain.CycleConfig{Pair: "KAS/USDT", Sources: []string{"mexc"}}

	srv := NewServer(
		Config{APIKey: apiKey, RateLimit: rateLimit, RateWindow: time.Minute},
		Handlers{
			Health:    handler.NewHealthHandler(checks, logger),
			Status:    handler.NewStatusHandler("server", cfg, time.Now()),
			Consensus: handler.NewConsensusHandler(cycles, nil, "KAS/USDT", logger),
			History:   handler.NewHistoryHandler(cycles, nil, bus, logger),
			Archive:   handler.NewArchiveHandler(blobs, logger),
			Audit: handler.NewAuditHandler(memAudit{
				{ID: 2, Event: "archive.cycles"},
				{ID: 1, Event: "cycle.degraded", CycleID: "c1"},
			}, logger),
			Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, "oracle_cycles_total 1\n")
			}),
		},
		nil,
		local.NewRateLimiter(),
		logger,
	)
	return &testEnv{handler: srv.Handler(), cycles: cycles, bus: bus}
}

func (e *testEnv) do(method, target string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublicAndReportsDependencies(t *testing.T) {
	env := newTestEnv(t, map[string]handler.HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, 0)

	rec := env.do(http.MethodGet, "/api/health", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["redis"])
	assert.Equal(t, "connection refused", body.Dependencies["postgres"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/status", false).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/status", true).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/metrics", false).Code)
}

func TestConsensusLifecycle(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/consensus/latest", true).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/books/latest", true).Code)

	rec := env.do(http.MethodPost, "/api/cycle", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = env.do(http.MethodGet, "/api/consensus/latest", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"median_mid":0.07515`)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/books/latest", true).Code)
}

func TestTriggerErrors(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	env.cycles.runErr = domain.ErrLockHeld
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/cycle", true).Code)

	env.cycles.runErr = domain.ErrInvalidConfig
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/cycle", true).Code)

	env.cycles.runErr = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, env.do(http.MethodPost, "/api/cycle", true).Code)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/api/cycle", true).Code)
}

func TestHistoryJSONAndCSV(t *testing.T) {
	env := newTestEnv(t, nil, 0)
	median := 0.0751
	env.cycles.history = []domain.CycleRecord{{
		ID:        "c9",
		Pair:      "KAS/USDT",
		AsOf:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		MedianMid: &median,
		Accepted:  []string{"gate", "mexc"},
	}}

	rec := env.do(http.MethodGet, "/api/history?limit=10", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"c9"`)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/history?since=yesterday", true).Code)

	rec = env.do(http.MethodGet, "/api/history.csv", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "gate|mexc")

	assert.Equal(t, http.StatusNotImplemented, env.do(http.MethodGet, "/api/books/mexc/history", true).Code)
}

func TestEventsReplay(t *testing.T) {
	env := newTestEnv(t, nil, 0)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		payload, _ := json.Marshal(domain.ConsensusResult{CycleID: id})
		require.NoError(t, env.bus.StreamAppend(ctx, domain.StreamCycles, payload))
	}

	rec := env.do(http.MethodGet, "/api/events?count=2", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Events []struct {
			ID        string                 `json:"id"`
			Consensus domain.ConsensusResult `json:"consensus"`
		} `json:"events"`
		Next string `json:"next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, "a", page.Events[0].Consensus.CycleID)

	rec = env.do(http.MethodGet, "/api/events?after="+page.Next, true)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, "c", page.Events[0].Consensus.CycleID)
}

func TestArchives(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(http.MethodGet, "/api/archives?prefix=cycles/2026-01", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cycles-20260101T000000Z.csv")

	rec = env.do(http.MethodGet, "/api/archives/cycles/2026-01/cycles-20260101T000000Z.csv", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "id,pair\n", rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/archives/cycles/missing.csv", true).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/archives?prefix=../secrets", true).Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, nil, 2)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/status", true).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/status", true).Code)
	rec := env.do(http.MethodGet, "/api/status", true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	req := httptest.NewRequest(http.MethodOptions, "/api/cycle", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuditList(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(http.MethodGet, "/api/audit?limit=1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "archive.cycles", body.Entries[0].Event)

	rec = env.do(http.MethodGet, "/api/audit?cycle_id=c1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "cycle.degraded", body.Entries[0].Event)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/audit", false).Code)
}
