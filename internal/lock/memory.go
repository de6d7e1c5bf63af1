package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker used when Redis is not configured.
// Expired entries are dropped when the key is next touched.
type MemoryLocker struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// held reports whether key is held, dropping it if expired. m.mu must be held.
func (m *MemoryLocker) held(key string) bool {
	exp, ok := m.expires[key]
	if !ok {
		return false
	}
	if !m.now().Before(exp) {
		delete(m.expires, key)
		return false
	}
	return true
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held(key) {
		return false, nil
	}
	m.expires[key] = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return acquireWithRetry(ctx, m, key, ttl, maxRetries, retryDelay)
}

func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held(key) {
		return false, nil
	}
	delete(m.expires, key)
	return true, nil
}

func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held(key), nil
}

var _ Locker = (*MemoryLocker)(nil)
