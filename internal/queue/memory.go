package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process FIFO for tests and single-binary runs.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an empty queue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false, nil
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true, nil
}

// Len returns the number of pending entries.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
