package rest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchQuoteCandidateFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.RawQuote
	}{
		{
			name: "flat string fields",
			body: `{"symbol":"KASUSDT","lastPrice":"0.07510","bidPrice":"0.07500","askPrice":"0.07520","closeTime":1700000000123}`,
			want: domain.RawQuote{Last: 0.0751, Bid: 0.075, Ask: 0.0752, Timestamp: 1700000000123},
		},
		{
			name: "array wrapped with fallback names",
			body: `[{"currency_pair":"KAS_USDT","last":"0.0751","highest_bid":"0.0750","lowest_ask":"0.0752"}]`,
			want: domain.RawQuote{Last: 0.0751, Bid: 0.075, Ask: 0.0752},
		},
		{
			name: "nested numeric",
			body: `{"code":"200000","data":{"price":0.0751,"bestBid":0.075,"bestAsk":0.0752,"time":1700000000}}`,
			want: domain.RawQuote{Last: 0.0751, Bid: 0.075, Ask: 0.0752, Timestamp: 1700000000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.RequestURI()
				_, _ = io.WriteString(w, tt.body)
			})
			v, err := NewVenue(VenueConfig{
				ID:              "x",
				QuoteURL:        srv.URL + "/ticker?symbol={symbol}",
				Symbol:          "KAS_USDT",
				LastFields:      []string{"lastPrice", "0.last", "data.price"},
				BidFields:       []string{"bidPrice", "0.highest_bid", "data.bestBid"},
				AskFields:       []string{"askPrice", "0.lowest_ask", "data.bestAsk"},
				TimestampFields: []string{"closeTime", "data.time"},
			}, srv.Client(), testLogger())
			require.NoError(t, err)

			q, err := v.FetchQuote(context.Background(), "KAS/USDT")
			require.NoError(t, err)
			assert.Equal(t, "/ticker?symbol=KAS_USDT", gotPath)
			assert.Equal(t, "x", q.SourceID)
			assert.InDelta(t, tt.want.Last, q.Last, 1e-12)
			assert.InDelta(t, tt.want.Bid, q.Bid, 1e-12)
			assert.InDelta(t, tt.want.Ask, q.Ask, 1e-12)
			assert.Equal(t, tt.want.Timestamp, q.Timestamp)
		})
	}
}

func TestFetchQuoteMissingField(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"bid":"1"}`)
	})
	v, err := NewVenue(VenueConfig{
		ID: "x", QuoteURL: srv.URL, BidFields: []string{"bid"}, AskFields: []string{"ask", "best_ask"},
	}, srv.Client(), testLogger())
	require.NoError(t, err)

	_, err = v.FetchQuote(context.Background(), "KAS/USDT")
	require.ErrorIs(t, err, domain.ErrFieldMissing)
	var fm *domain.FieldMissingError
	require.ErrorAs(t, err, &fm)
	assert.Equal(t, "ask", fm.Attribute)
	assert.Equal(t, []string{"ask", "best_ask"}, fm.Candidates)
}

func TestFetchQuoteWrappedJSON(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `callback({"bid":"2","ask":"3"});`)
	})
	v, err := NewVenue(VenueConfig{ID: "x", QuoteURL: srv.URL, BidFields: []string{"bid"}, AskFields: []string{"ask"}},
		srv.Client(), testLogger())
	require.NoError(t, err)

	q, err := v.FetchQuote(context.Background(), "KAS/USDT")
	require.NoError(t, err)
	assert.Equal(t, 2.0, q.Bid)
	assert.Equal(t, 3.0, q.Ask)
}

func TestFetchOrderbook(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{
			"ts": "1700000000",
			"data": {
				"bids": [["0.0749","10"],["0.0750","5"],["0.0750","1"],["0.0748","0"],["0.0747",2],["0.0746","7"]],
				"asks": [{"price":"0.0753","size":"4"},{"price":"0.0752","size":"6"}]
			}
		}`)
	})
	v, err := NewVenue(VenueConfig{
		ID:              "bitget",
		BookURL:         srv.URL + "/book?symbol={symbol}&limit={depth}",
		BidsFields:      []string{"bids", "data.bids"},
		AsksFields:      []string{"asks", "data.asks"},
		TimestampFields: []string{"ts"},
		TimestampUnit:   "s",
	}, srv.Client(), testLogger())
	require.NoError(t, err)

	snap, err := v.FetchOrderbook(context.Background(), "KAS/USDT", 3)
	require.NoError(t, err)

	assert.Equal(t, []domain.PriceLevel{
		{Price: 0.075, Size: 6},
		{Price: 0.0749, Size: 10},
		{Price: 0.0747, Size: 2},
	}, snap.Bids)
	assert.Equal(t, []domain.PriceLevel{
		{Price: 0.0752, Size: 6},
		{Price: 0.0753, Size: 4},
	}, snap.Asks)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), snap.Timestamp)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})
	v, err := NewVenue(VenueConfig{
		ID: "x", QuoteURL: srv.URL, BidFields: []string{"bid"}, AskFields: []string{"ask"},
		BreakerFailures: 2, BreakerCooldown: time.Minute,
	}, srv.Client(), testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := v.FetchQuote(ctx, "KAS/USDT")
		require.ErrorIs(t, err, domain.ErrSourceUnavailable)
		if i < 2 {
			assert.Contains(t, err.Error(), "status 503")
		}
	}
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the server")
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"bid":1,"ask":2}`)
	})
	v, err := NewVenue(VenueConfig{
		ID: "x", QuoteURL: srv.URL, BidFields: []string{"bid"}, AskFields: []string{"ask"},
		RatePerSec: 0.001, Burst: 1,
	}, srv.Client(), testLogger())
	require.NoError(t, err)

	_, err = v.FetchQuote(context.Background(), "KAS/USDT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = v.FetchQuote(ctx, "KAS/USDT")
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestNewVenueValidation(t *testing.T) {
	_, err := NewVenue(VenueConfig{}, nil, testLogger())
	assert.Error(t, err)
	_, err = NewVenue(VenueConfig{ID: "x"}, nil, testLogger())
	assert.Error(t, err)
	_, err = NewVenue(VenueConfig{ID: "x", QuoteURL: "http://x"}, nil, testLogger())
	assert.Error(t, err)

	v, err := NewVenue(VenueConfig{ID: "x", BookURL: "http://x", BidsFields: []string{"b"}, AsksFields: []string{"a"}}, nil, testLogger())
	require.NoError(t, err)
	assert.False(t, v.HasQuotes())
	assert.True(t, v.HasBooks())
}

func TestLookup(t *testing.T) {
	doc, err := decode([]byte(`{"a":[{"b":"1"},{"b":null}],"c":{"d":2}}`))
	require.NoError(t, err)

	v, ok := lookup(doc, "a.0.b")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = lookup(doc, "a.1.b")
	assert.False(t, ok, "null counts as absent")
	_, ok = lookup(doc, "a.5.b")
	assert.False(t, ok)
	_, ok = lookup(doc, "c.d.e")
	assert.False(t, ok)
}
