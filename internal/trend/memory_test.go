package trend

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

func TestMemoryStoreSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, found, err := s.Swap(ctx, "mexc", domain.TrendPoint{Mid: 1})
	require.NoError(t, err)
	assert.False(t, found)

	prev, found, err := s.Swap(ctx, "mexc", domain.TrendPoint{Mid: 2})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1.0, prev.Mid)

	_, found, _ = s.Swap(ctx, "gate", domain.TrendPoint{Mid: 9})
	assert.False(t, found, "sources must not share slots")

	got, ok := s.Get("mexc")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Mid)

	s.Reset()
	_, ok = s.Get("mexc")
	assert.False(t, ok)
}

func TestMemoryStoreSwapIsAtomicPerSource(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	seen := map[float64]int{}
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			prev, found, err := s.Swap(ctx, "kucoin", domain.TrendPoint{Mid: v})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if !found {
				firsts++
				return
			}
			seen[prev.Mid]++
		}(float64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, firsts)
	for v, c := range seen {
		assert.Equal(t, 1, c, "value %v was observed as previous more than once", v)
	}
	assert.Len(t, seen, n-1)
}

func TestMemoryStoreSwapIgnoresCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemoryStore()
	_, found, err := m.Swap(ctx, "x", domain.TrendPoint{Mid: 1.5})
	require.NoError(t, err)
	assert.False(t, found)

	got, ok := m.Get("x")
	require.True(t, ok)
	assert.InDelta(t, 1.5, got.Mid, 1e-12)
}
