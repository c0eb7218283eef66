package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, domain.ChannelConsensus)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), domain.ChannelConsensus, []byte("a")))
	require.NoError(t, b.Publish(context.Background(), domain.ChannelBooks, []byte("ignored")))

	select {
	case msg := <-ch:
		assert.Equal(t, "a", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestBusStream(t *testing.T) {
	b := NewBus()
	ctx := context.Background()
	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, b.StreamAppend(ctx, domain.StreamCycles, []byte(p)))
	}

	all, err := b.StreamRead(ctx, domain.StreamCycles, "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	rest, err := b.StreamRead(ctx, domain.StreamCycles, all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "two", string(rest[0].Payload))
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "cycle", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	other, err := lm.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	relock, err := lm.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	unlock()
	_, err = lm.Acquire(ctx, "cycle", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld, "repeated unlock must not release the new holder")
	relock()
}

func TestLockManagerHeldPastTTL(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "cycle", 5*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = lm.Acquire(ctx, "cycle", 5*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrLockHeld, "a running holder keeps the lock past its ttl")

	unlock()
	_, err = lm.Acquire(ctx, "cycle", 5*time.Millisecond)
	assert.NoError(t, err)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "ip", 3, time.Minute)
	assert.False(t, ok)
	ok, _ = rl.Allow(ctx, "other", 3, time.Minute)
	assert.True(t, ok)
}
