package lock

import (
	"context"
	"fmt"
	"sync"

	"dossier/pkg/platform/sentinel"
)

// MemoryLocker is a keyed mutex for a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewMemory creates a MemoryLocker.
func NewMemory() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	for {
		l.mu.Lock()
		released, held := l.held[key]
		if !held {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return &memoryLease{locker: l, key: key}, nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", key, sentinel.ErrLockHeld)
		}
	}
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	once   sync.Once
}

func (m *memoryLease) Release(context.Context) error {
	m.once.Do(func() {
		m.locker.mu.Lock()
		defer m.locker.mu.Unlock()
		if ch, ok := m.locker.held[m.key]; ok {
			delete(m.locker.held, m.key)
			close(ch)
		}
	})
	return nil
}
