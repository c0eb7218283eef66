package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// RateLimiter is a token-bucket domain.RateLimiter keyed by caller. The
// bucket for a key is sized from the first limit/window it is asked about.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter returns an empty limiter set.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (rl *RateLimiter) get(key string, limit int, window time.Duration) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(max(limit, 1))), max(limit, 1))
		rl.limiters[key] = l
	}
	return l
}

// Allow consumes a token for key if one is available.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	return rl.get(key, limit, window).Allow(), nil
}

// Wait blocks until key may proceed at one request per second.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	if err := rl.get(key, 1, time.Second).Wait(ctx); err != nil {
		return fmt.Errorf("local: rate limit wait %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
