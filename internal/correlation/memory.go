package correlation

import (
	"context"
	"sync"
)

// MemoryNotifier records notifications in memory.
type MemoryNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

// NewMemory creates an empty MemoryNotifier.
func NewMemory() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (m *MemoryNotifier) Enqueue(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

// Notifications returns a copy of everything enqueued so far.
func (m *MemoryNotifier) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notifications...)
}
