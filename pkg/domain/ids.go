// Package domain holds the typed identifiers shared across the engine.
package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when an identifier fails to parse or is the nil UUID.
var ErrInvalidID = errors.New("invalid id")

// SubjectID identifies a monitored subject (the owner of every aggregate).
type SubjectID uuid.UUID

// AgentID identifies the capture agent that produced a piece of evidence.
type AgentID uuid.UUID

// EvidenceID identifies a single evidence record in the external evidence store.
type EvidenceID uuid.UUID

// BucketID identifies a durable aggregate bucket.
type BucketID uuid.UUID

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%s: %w: empty", kind, ErrInvalidID)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w: %v", kind, ErrInvalidID, err)
	}
	if u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s: %w: nil uuid", kind, ErrInvalidID)
	}
	return u, nil
}

func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID("subject id", s)
	return SubjectID(u), err
}

func ParseAgentID(s string) (AgentID, error) {
	u, err := parseUUID("agent id", s)
	return AgentID(u), err
}

func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parseUUID("evidence id", s)
	return EvidenceID(u), err
}

func ParseBucketID(s string) (BucketID, error) {
	u, err := parseUUID("bucket id", s)
	return BucketID(u), err
}

// NewBucketID returns a random bucket identifier.
func NewBucketID() BucketID { return BucketID(uuid.New()) }

func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id AgentID) String() string    { return uuid.UUID(id).String() }
func (id EvidenceID) String() string { return uuid.UUID(id).String() }
func (id BucketID) String() string   { return uuid.UUID(id).String() }

func (id SubjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id AgentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EvidenceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BucketID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// Text encodings let IDs travel inside JSON queue entries and notifications.

func (id SubjectID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *SubjectID) UnmarshalText(b []byte) error {
	parsed, err := ParseSubjectID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id AgentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *AgentID) UnmarshalText(b []byte) error {
	parsed, err := ParseAgentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id EvidenceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *EvidenceID) UnmarshalText(b []byte) error {
	parsed, err := ParseEvidenceID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id BucketID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *BucketID) UnmarshalText(b []byte) error {
	parsed, err := ParseBucketID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
