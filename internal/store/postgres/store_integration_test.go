package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// newTestClient connects to ORACLE_TEST_POSTGRES_DSN or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("ORACLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ORACLE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func f(v float64) *float64 { return &v }

func TestCycleStoreRoundTrip(t *testing.T) {
	c := newTestClient(t)
	store := NewCycleStore(c.Pool())
	ctx := context.Background()

	pair := "TEST/" + uuid.NewString()[:8]
	old := domain.CycleRecord{
		ID: uuid.NewString(), Pair: pair, AsOf: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		MedianMid: f(1), SpreadMaxBps: f(0), Accepted: []string{"a"},
	}
	degraded := domain.CycleRecord{
		ID: uuid.NewString(), Pair: pair, AsOf: time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC),
		Failed: []string{"a", "b"}, Messages: []string{"a: timeout", "b: timeout"},
	}
	require.NoError(t, store.Insert(ctx, old))
	require.NoError(t, store.Insert(ctx, degraded))
	require.NoError(t, store.Insert(ctx, degraded), "duplicate insert is ignored")

	before, err := store.ListBefore(ctx, time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	var ours []domain.CycleRecord
	for _, r := range before {
		if r.Pair == pair {
			ours = append(ours, r)
		}
	}
	require.Len(t, ours, 2)
	assert.Equal(t, old.ID, ours[0].ID)
	assert.Equal(t, 1.0, *ours[0].MedianMid)
	assert.Nil(t, ours[1].MedianMid)
	assert.Equal(t, []string{"a", "b"}, ours[1].Failed)
	assert.Equal(t, []string{}, ours[1].Accepted)

	n, err := store.DeleteBefore(ctx, time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))
}

func TestBookStoreRoundTrip(t *testing.T) {
	c := newTestClient(t)
	store := NewBookStore(c.Pool())
	ctx := context.Background()

	source := "src-" + uuid.NewString()[:8]
	report := domain.BookReport{
		CycleID: uuid.NewString(),
		Pair:    "KAS/USDT",
		AsOf:    time.Now().UnixMilli(),
		Books: []domain.BookAnalysis{{
			SourceID: source,
			KPIs: domain.BookKPIs{
				BestBid: 1, BestAsk: 1, Mid: 1, DepthBuy: 2, DepthSell: 3, TotalDepth: 5,
				Imbalance: -0.2, LiquidityIndex: domain.InfiniteLiquidity(),
			},
			Delta: domain.TrendDelta{FirstObservation: true},
		}},
	}
	require.NoError(t, store.InsertReport(ctx, report))

	recs, err := store.ListBySource(ctx, source, domain.ListOpts{Limit: 5})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, report.CycleID, recs[0].CycleID)
	assert.True(t, recs[0].Analysis.KPIs.LiquidityIndex.Infinite)
	assert.Equal(t, 5.0, recs[0].Analysis.KPIs.TotalDepth)
	assert.True(t, recs[0].Analysis.Delta.FirstObservation)
}

func TestAuditStoreRoundTrip(t *testing.T) {
	c := newTestClient(t)
	store := NewAuditStore(c.Pool())
	ctx := context.Background()

	event := "test_" + uuid.NewString()[:8]
	cycleID := uuid.NewString()
	require.NoError(t, store.Log(ctx, event, map[string]any{"cycle_id": cycleID}))
	require.NoError(t, store.Log(ctx, event, map[string]any{"note": "no cycle"}))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 50})
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Event == event {
			found = true
			if e.CycleID != "" {
				assert.Equal(t, cycleID, e.Detail["cycle_id"])
			}
		}
	}
	assert.True(t, found)

	byCycle, err := store.ListByCycle(ctx, cycleID)
	require.NoError(t, err)
	require.Len(t, byCycle, 1)
	assert.Equal(t, event, byCycle[0].Event)
}
