package consensus

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

func quote(id string, bid, ask float64) domain.Quote {
	return domain.Quote{SourceID: id, Pair: "KAS/USDT", Bid: bid, Ask: ask, Mid: (bid + ask) / 2}
}

func ids(qs []domain.Quote) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.SourceID
	}
	sort.Strings(out)
	return out
}

func TestNormalize(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)

	t.Run("mid is recomputed and ids come from config", func(t *testing.T) {
		q, err := Normalize(domain.RawQuote{SourceID: "upstream", Last: 0.0751, Bid: 0.0750, Ask: 0.0752, Timestamp: 42}, "mexc", "KAS/USDT", start)
		require.NoError(t, err)
		assert.Equal(t, "mexc", q.SourceID)
		assert.Equal(t, "KAS/USDT", q.Pair)
		assert.InDelta(t, 0.0751, q.Mid, 1e-12)
		assert.Equal(t, int64(42), q.Timestamp)
	})

	t.Run("missing timestamp falls back to cycle start", func(t *testing.T) {
		q, err := Normalize(domain.RawQuote{Bid: 1, Ask: 2}, "gate", "KAS/USDT", start)
		require.NoError(t, err)
		assert.Equal(t, start.UnixMilli(), q.Timestamp)
	})

	t.Run("crossed quote is data not an error", func(t *testing.T) {
		q, err := Normalize(domain.RawQuote{Bid: 2, Ask: 1}, "gate", "KAS/USDT", start)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, q.Mid, 1e-12)
	})

	tests := []struct {
		name string
		raw  domain.RawQuote
	}{
		{"zero bid", domain.RawQuote{Bid: 0, Ask: 1}},
		{"negative ask", domain.RawQuote{Bid: 1, Ask: -1}},
		{"negative last", domain.RawQuote{Bid: 1, Ask: 1, Last: -3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw, "x", "KAS/USDT", start)
			assert.ErrorIs(t, err, domain.ErrInvalidQuote)
		})
	}
}

func TestMedian(t *testing.T) {
	_, ok := Median(nil)
	assert.False(t, ok)

	m, ok := Median([]float64{3, 1, 2})
	require.True(t, ok)
	assert.Equal(t, 2.0, m)

	m, _ = Median([]float64{4, 1, 3, 2})
	assert.Equal(t, 2.5, m)
}

func TestFilterDropsFarOutlier(t *testing.T) {
	quotes := []domain.Quote{
		quote("a", 0.0750, 0.0752),
		quote("b", 0.0751, 0.0753),
		quote("c", 0.15, 0.16),
	}

	res := Filter(quotes, 0.05, DefaultPrecision)

	require.NotNil(t, res.ProvisionalMedian)
	assert.InDelta(t, 0.0752, *res.ProvisionalMedian, 1e-12)
	assert.Equal(t, []string{"a", "b"}, ids(res.Kept))
	assert.Equal(t, []string{"c"}, ids(res.Dropped))
	assert.Contains(t, res.Message, "0.075200")
	assert.Contains(t, res.Message, "c mid=0.155000")
}

func TestFilterFewerThanTwoQuotes(t *testing.T) {
	res := Filter(nil, 0.05, DefaultPrecision)
	assert.Empty(t, res.Kept)
	assert.Nil(t, res.ProvisionalMedian)

	one := []domain.Quote{quote("a", 1, 2)}
	res = Filter(one, 0.05, DefaultPrecision)
	assert.Equal(t, one, res.Kept)
	assert.Empty(t, res.Dropped)
	assert.Empty(t, res.Message)
}

func TestFilterRevertsWhenEverythingWouldBeDropped(t *testing.T) {
	quotes := []domain.Quote{quote("a", 1, 1), quote("b", 3, 3)}

	res := Filter(quotes, 0.05, DefaultPrecision)

	assert.Equal(t, []string{"a", "b"}, ids(res.Kept))
	assert.Empty(t, res.Dropped)
	assert.Empty(t, res.Message)
}

func TestFilterZeroMedianKeepsAll(t *testing.T) {
	quotes := []domain.Quote{
		{SourceID: "a", Mid: 0},
		{SourceID: "b", Mid: 0},
		{SourceID: "c", Mid: 5},
	}
	res := Filter(quotes, 0.01, DefaultPrecision)
	assert.Len(t, res.Kept, 3)
	assert.Empty(t, res.Dropped)
}

func TestFilterIsOrderIndependent(t *testing.T) {
	base := []domain.Quote{
		quote("a", 10.0, 10.2),
		quote("b", 10.1, 10.3),
		quote("c", 9.9, 10.1),
		quote("d", 13.0, 13.2),
		quote("e", 10.05, 10.15),
		quote("f", 7.0, 7.1),
	}
	want := Filter(base, 0.05, DefaultPrecision)
	wantMedian, _ := Aggregate(want.Kept)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		perm := append([]domain.Quote(nil), base...)
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		got := Filter(perm, 0.05, DefaultPrecision)
		gotMedian, _ := Aggregate(got.Kept)

		assert.Equal(t, ids(want.Kept), ids(got.Kept))
		assert.Equal(t, ids(want.Dropped), ids(got.Dropped))
		assert.Equal(t, *wantMedian, *gotMedian)
	}
}

func TestAggregate(t *testing.T) {
	m, s := Aggregate(nil)
	assert.Nil(t, m)
	assert.Nil(t, s)

	m, s = Aggregate([]domain.Quote{quote("a", 1, 3)})
	require.NotNil(t, m)
	assert.Equal(t, 2.0, *m)
	assert.Equal(t, 0.0, *s)

	m, s = Aggregate([]domain.Quote{quote("a", 0.0750, 0.0752), quote("b", 0.0751, 0.0753)})
	assert.InDelta(t, 0.07515, *m, 1e-12)
	assert.InDelta(t, 13.3067, *s, 1e-3)
}

func TestAggregateIdenticalMids(t *testing.T) {
	quotes := []domain.Quote{quote("a", 1, 3), quote("b", 1.5, 2.5), quote("c", 2, 2)}
	res := Reconcile(domain.QuoteSet{Quotes: quotes}, 0.05, DefaultPrecision)
	assert.Empty(t, res.Dropped)
	require.NotNil(t, res.SpreadMaxBps)
	assert.Equal(t, 0.0, *res.SpreadMaxBps)
}

func TestReconcileScenario(t *testing.T) {
	set := domain.QuoteSet{
		Quotes: []domain.Quote{
			quote("a", 0.0750, 0.0752),
			quote("b", 0.0751, 0.0753),
			quote("c", 0.15, 0.16),
		},
		Failures: []domain.SourceFailure{{SourceID: "d", Reason: "timeout"}},
	}

	res := Reconcile(set, 0.05, DefaultPrecision)

	require.NotNil(t, res.MedianMid)
	assert.InDelta(t, 0.07515, *res.MedianMid, 1e-12)
	assert.InDelta(t, 13.3, *res.SpreadMaxBps, 0.05)
	assert.Len(t, res.Accepted, 2)
	assert.Len(t, res.Dropped, 1)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "d: timeout", res.Messages[0])
	assert.Contains(t, res.Messages[1], "outliers dropped")
}

func TestReconcilePartitionsEveryQuote(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 50; i++ {
		n := rng.Intn(8)
		quotes := make([]domain.Quote, n)
		for j := range quotes {
			bid := 1 + rng.Float64()
			quotes[j] = quote(string(rune('a'+j)), bid, bid+rng.Float64()*0.2)
		}

		res := Reconcile(domain.QuoteSet{Quotes: quotes}, 0.05, DefaultPrecision)

		assert.Equal(t, n, len(res.Accepted)+len(res.Dropped))
		if n > 0 {
			assert.NotEmpty(t, res.Accepted)
		}
		seen := map[string]bool{}
		for _, q := range append(append([]domain.Quote{}, res.Accepted...), res.Dropped...) {
			assert.False(t, seen[q.SourceID], "quote %s appears twice", q.SourceID)
			seen[q.SourceID] = true
		}
	}
}

func TestReconcileEmpty(t *testing.T) {
	res := Reconcile(domain.QuoteSet{}, 0.05, DefaultPrecision)
	assert.Nil(t, res.MedianMid)
	assert.Nil(t, res.SpreadMaxBps)
	assert.NotNil(t, res.Accepted)
	assert.Empty(t, res.Accepted)
	assert.Empty(t, res.Dropped)
	assert.True(t, res.Degraded())
}
