package store

import (
	"context"
	"fmt"
	"sync"

	"dossier/internal/evidence"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
)

// InMemoryStore is an evidence store for tests and local runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	evidence map[id.EvidenceID]evidence.Evidence
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{evidence: make(map[id.EvidenceID]evidence.Evidence)}
}

// Put stores or replaces a record.
func (s *InMemoryStore) Put(ev evidence.Evidence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evidence[ev.ID] = ev
}

func (s *InMemoryStore) Get(_ context.Context, evidenceID id.EvidenceID) (*evidence.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.evidence[evidenceID]
	if !ok {
		return nil, fmt.Errorf("evidence %s: %w", evidenceID, sentinel.ErrNotFound)
	}
	return &ev, nil
}
