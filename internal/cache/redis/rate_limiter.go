package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter with a sliding window kept in
// a sorted set per key, so API clients are limited across every oracle
// replica behind a load balancer.
type RateLimiter struct {
	c      *Client
	window *redis.Script

	// Wait's budget; Allow callers pass their own.
	waitLimit  int
	waitWindow time.Duration
}

// NewRateLimiter creates a RateLimiter. Wait admits one call per second
// per key.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		c:          c,
		window:     redis.NewScript(slidingWindowLua),
		waitLimit:  1,
		waitWindow: time.Second,
	}
}

// Allow records a hit for key and reports whether it fits in limit hits per
// window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.window.Run(ctx, rl.c.Underlying(),
		[]string{rl.c.Key("ratelimit:" + key)},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, nil
}

// Wait polls Allow until key is admitted or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		ok, err := rl.Allow(ctx, key, rl.waitLimit, rl.waitWindow)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
