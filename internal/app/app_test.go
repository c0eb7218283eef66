package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/priceoracle/internal/config"
	"github.com/alanyoungcy/priceoracle/internal/domain"
)

func venueServer(t *testing.T, bid, ask string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ticker", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"bid":"`+bid+`","ask":"`+ask+`","last":"`+bid+`"}`)
	})
	mux.HandleFunc("/depth", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"bids":[["`+bid+`","1000"]],"asks":[["`+ask+`","1000"]]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func venue(base string) config.VenueConfig {
	return config.VenueConfig{
		QuoteURL:   base + "/ticker",
		BookURL:    base + "/depth",
		BidFields:  []string{"bid"},
		AskFields:  []string{"ask"},
		LastFields: []string{"last"},
		BidsFields: []string{"bids"},
		AsksFields: []string{"asks"},
	}
}

func testConfig(t *testing.T) *config.Config {
	a := venueServer(t, "0.0750", "0.0752")
	b := venueServer(t, "0.0751", "0.0753")

	cfg := config.Defaults()
	cfg.Mode = "once"
	cfg.Venues = map[string]config.VenueConfig{"a": venue(a.URL), "b": venue(b.URL)}
	cfg.Oracle.Sources = []string{"a", "b"}
	cfg.Oracle.BookSources = []string{"a", "b"}
	return &cfg
}

func TestOnceModePrintsOutcome(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.SetOutput(&out)
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))

	var got domain.CycleOutcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, domain.CycleOK, got.Status)
	assert.Equal(t, "KAS/USDT", got.Consensus.Pair)
	require.NotNil(t, got.Consensus.MedianMid)
	assert.InDelta(t, 0.07515, *got.Consensus.MedianMid, 1e-9)
	assert.Len(t, got.Consensus.Accepted, 2)
	require.NotNil(t, got.Books)
	assert.Len(t, got.Books.Books, 2)
}

func TestOnceModeUnknownSourceIsDegraded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Oracle.Sources = append(cfg.Oracle.Sources, "missing")
	var out bytes.Buffer

	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.SetOutput(&out)
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))

	var got domain.CycleOutcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, domain.CycleDegraded, got.Status)
	require.Len(t, got.Consensus.Failures, 1)
	assert.Equal(t, "missing", got.Consensus.Failures[0].SourceID)
}

func TestWireWithoutBackendsUsesLocalFallbacks(t *testing.T) {
	cfg := testConfig(t)

	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.CycleStore)
	assert.Nil(t, deps.PriceCache)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.LockManager)
	assert.NotNil(t, deps.SignalBus)
	assert.NotNil(t, deps.TrendStore)
	assert.Empty(t, deps.HealthChecks)
	assert.Equal(t, []string{"a", "b"}, deps.Registry.QuoteIDs())
	assert.Equal(t, []string{"a", "b"}, deps.Registry.BookIDs())
}

func TestWireRejectsIncompleteVenue(t *testing.T) {
	cfg := testConfig(t)
	cfg.Venues["bad"] = config.VenueConfig{QuoteURL: "http://127.0.0.1/x"}

	_, _, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue bad")
}
