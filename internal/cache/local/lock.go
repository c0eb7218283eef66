package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// LockManager is a process-local domain.LockManager. A lock is held until
// its release func runs. The ttl only matters for the Redis manager, whose
// keep-alive extends the lease for as long as the holder runs; a local
// holder cannot outlive its process, so its lease never lapses.
type LockManager struct {
	mu   sync.Mutex
	held map[string]uint64
	seq  uint64
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]uint64)}
}

// Acquire returns domain.ErrLockHeld if key is held.
func (l *LockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, domain.ErrLockHeld
	}
	l.seq++
	token := l.seq
	l.held[key] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == token {
				delete(l.held, key)
			}
		})
	}, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
