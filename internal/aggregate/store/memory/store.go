// Package memory provides an in-process aggregate store. Every operation runs
// under one lock, which gives the same atomicity the Postgres store gets from
// single-statement upserts.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"dossier/internal/aggregate"
	"dossier/internal/aggregate/ports"
	"dossier/internal/geo"
	"dossier/internal/peer"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
)

type stateKey struct {
	subjectID id.SubjectID
	agentID   id.AgentID
}

var _ ports.Store = (*Store)(nil)

// Store is an in-memory aggregate store.
type Store struct {
	mu         sync.RWMutex
	buckets    map[id.BucketID]*aggregate.Bucket
	byIdentity map[string]id.BucketID
	summaries  map[id.SubjectID]map[string]struct{}
	states     map[stateKey][]byte
	now        func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		buckets:    make(map[id.BucketID]*aggregate.Bucket),
		byIdentity: make(map[string]id.BucketID),
		summaries:  make(map[id.SubjectID]map[string]struct{}),
		states:     make(map[stateKey][]byte),
		now:        time.Now,
	}
}

func (s *Store) IncrementCommunication(_ context.Context, key aggregate.CommunicationKey, weight int64) (*aggregate.Bucket, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, created := s.findOrCreateLocked(string(key.IdentityHash()), key.Bucket)
	b.Count++
	b.Size += max(weight, 0)
	b.UpdatedAt = s.now().UTC()
	return cloneBucket(b), created, nil
}

func (s *Store) FindOrCreatePosition(_ context.Context, key aggregate.PositionKey) (*aggregate.Bucket, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, created := s.findOrCreateLocked(string(key.IdentityHash()), key.Bucket)
	return cloneBucket(b), created, nil
}

func (s *Store) findOrCreateLocked(identity string, build func() aggregate.Bucket) (*aggregate.Bucket, bool) {
	if bucketID, ok := s.byIdentity[identity]; ok {
		return s.buckets[bucketID], false
	}
	b := build()
	b.ID = id.NewBucketID()
	b.CreatedAt = s.now().UTC()
	b.UpdatedAt = b.CreatedAt
	s.buckets[b.ID] = &b
	s.byIdentity[identity] = b.ID
	return &b, true
}

func (s *Store) FindPositions(_ context.Context, subjectID id.SubjectID, box geo.Box) ([]*aggregate.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*aggregate.Bucket
	for _, b := range s.buckets {
		if b.SubjectID == subjectID && b.IsPosition() && box.Includes(b.Place()) {
			out = append(out, cloneBucket(b))
		}
	}
	sortBuckets(out)
	return out, nil
}

func (s *Store) RecordTimeframe(_ context.Context, bucketID id.BucketID, tf aggregate.Timeframe) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucketID]
	if !ok || !b.IsPosition() {
		return false, fmt.Errorf("position bucket %s: %w", bucketID, sentinel.ErrNotFound)
	}
	tf = aggregate.Timeframe{Start: tf.Start.UTC(), End: tf.End.UTC()}
	for _, existing := range b.Timeframes {
		if existing.Start.Equal(tf.Start) && existing.End.Equal(tf.End) {
			return false, nil
		}
	}
	b.Timeframes = append(b.Timeframes, tf)
	b.Count++
	b.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) SummaryContains(_ context.Context, subjectID id.SubjectID, kind, p string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.summaries[subjectID][peer.Token(kind, p)]
	return ok, nil
}

func (s *Store) SummaryAdd(_ context.Context, subjectID id.SubjectID, kind, p string) error {
	if subjectID.IsNil() {
		return aggregate.ErrSubjectRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.summaries[subjectID]
	if !ok {
		set = make(map[string]struct{})
		s.summaries[subjectID] = set
	}
	set[peer.Token(kind, p)] = struct{}{}
	return nil
}

func (s *Store) RebuildSummary(_ context.Context, subjectID id.SubjectID) (int, error) {
	if subjectID.IsNil() {
		return 0, aggregate.ErrSubjectRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{})
	for _, b := range s.buckets {
		if b.SubjectID == subjectID && !aggregate.IsReservedKind(b.Kind) {
			set[peer.Token(b.Kind, b.Peer)] = struct{}{}
		}
	}
	s.summaries[subjectID] = set
	return len(set), nil
}

// SummaryTokens returns the sorted summary index of a subject.
func (s *Store) SummaryTokens(subjectID id.SubjectID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]string, 0, len(s.summaries[subjectID]))
	for token := range s.summaries[subjectID] {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

func (s *Store) LoadPositionerState(_ context.Context, subjectID id.SubjectID, agentID id.AgentID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[stateKey{subjectID, agentID}]
	if !ok {
		return nil, fmt.Errorf("positioner state: %w", sentinel.ErrNotFound)
	}
	return slices.Clone(state), nil
}

func (s *Store) SavePositionerState(_ context.Context, subjectID id.SubjectID, agentID id.AgentID, state []byte) error {
	if subjectID.IsNil() {
		return aggregate.ErrSubjectRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey{subjectID, agentID}] = slices.Clone(state)
	return nil
}

func (s *Store) Query(_ context.Context, subjectID id.SubjectID, filter aggregate.Filter) ([]*aggregate.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*aggregate.Bucket
	for _, b := range s.buckets {
		if b.SubjectID == subjectID && filter.Matches(b) {
			out = append(out, cloneBucket(b))
		}
	}
	sortBuckets(out)
	return out, nil
}

func cloneBucket(b *aggregate.Bucket) *aggregate.Bucket {
	c := *b
	c.Timeframes = slices.Clone(b.Timeframes)
	return &c
}

// sortBuckets gives callers a deterministic order: day then creation.
func sortBuckets(buckets []*aggregate.Bucket) {
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Day != buckets[j].Day {
			return buckets[i].Day < buckets[j].Day
		}
		return buckets[i].CreatedAt.Before(buckets[j].CreatedAt)
	})
}

// RunInTx runs fn directly. Individual operations are atomic but a failing fn
// does not roll back earlier writes.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
