package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Both scripts act only while KEYS[1] still holds the caller's token.
const (
	unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
	extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
)

// LockManager implements domain.LockManager with SET NX PX and a random
// token per holder. A held lock is extended every ttl/3 until released, so
// a cycle slower than the TTL keeps ownership while a crashed holder's
// lock still expires.
type LockManager struct {
	c      *Client
	unlock *redis.Script
	extend *redis.Script
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:      c,
		unlock: redis.NewScript(unlockLua),
		extend: redis.NewScript(extendLua),
	}
}

// Acquire takes the lock or returns domain.ErrLockHeld. The returned
// release function may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	rdb := lm.c.Underlying()
	lk := lm.c.Key("lock:" + key)
	token := uuid.NewString()

	ok, err := rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's ctx may already be cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(rctx, rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := lm.extend.Run(ctx, lm.c.Underlying(), []string{lk}, token, ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				// lost to expiry; nothing left to extend
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
