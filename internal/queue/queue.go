// Package queue carries evidence references from the capture pipeline to the
// processors. Each entry is handed to exactly one dequeuer.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dossier/internal/evidence"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
)

// Entry references one evidence record. Kind is an optional routing hint.
type Entry struct {
	SubjectID  id.SubjectID  `json:"subject_id"`
	EvidenceID id.EvidenceID `json:"evidence_id"`
	Kind       evidence.Kind `json:"kind,omitempty"`
}

// Validate checks the required references.
func (e Entry) Validate() error {
	if e.SubjectID.IsNil() {
		return errors.New("queue entry subject id is required")
	}
	if e.EvidenceID.IsNil() {
		return errors.New("queue entry evidence id is required")
	}
	return nil
}

// Queue is the pending-work queue.
type Queue interface {
	// Dequeue removes one entry. ok is false when the queue is empty.
	Dequeue(ctx context.Context) (entry Entry, ok bool, err error)
	Enqueue(ctx context.Context, entry Entry) error
}

func encode(e Entry) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// decode fails with sentinel.ErrInvalidState; the raw entry is already consumed.
func decode(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode queue entry: %w: %v", sentinel.ErrInvalidState, err)
	}
	if err := e.Validate(); err != nil {
		return Entry{}, fmt.Errorf("decode queue entry: %w: %v", sentinel.ErrInvalidState, err)
	}
	return e, nil
}
