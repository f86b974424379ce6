package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// MemoryLocker is an in-process Locker for tests and single-process runs.
type MemoryLocker struct {
	mu      sync.Mutex
	holders map[string]memoryEntry
	seq     uint64
	now     func() time.Time
}

type memoryEntry struct {
	id      uint64
	expires time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		holders: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Acquire takes the lease on key or returns a LeaseConflictError.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.holders[key]; ok && now.Before(e.expires) {
		return nil, &domain.LeaseConflictError{Key: key}
	}

	l.seq++
	l.holders[key] = memoryEntry{id: l.seq, expires: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, id: l.seq}, nil
}

// Held reports whether key is currently leased.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.holders[key]
	return ok && l.now().Before(e.expires)
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	id     uint64
}

func (m *memoryLease) Key() string {
	return m.key
}

func (m *memoryLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if e, ok := m.locker.holders[m.key]; ok && e.id == m.id {
		delete(m.locker.holders, m.key)
	}
	return nil
}

func (m *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	e, ok := m.locker.holders[m.key]
	if !ok || e.id != m.id || !m.locker.now().Before(e.expires) {
		return &domain.LeaseConflictError{Key: m.key}
	}
	e.expires = m.locker.now().Add(ttl)
	m.locker.holders[m.key] = e
	return nil
}
