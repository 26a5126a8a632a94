package testutil

import (
	"time"

	"github.com/google/uuid"

	"dossier/internal/evidence"
	id "dossier/pkg/domain"
)

// EvidenceOption customises a fixture.
type EvidenceOption func(*evidence.Evidence)

// WithSubject pins the subject of a fixture.
func WithSubject(subjectID id.SubjectID) EvidenceOption {
	return func(e *evidence.Evidence) { e.SubjectID = subjectID }
}

// WithAgent pins the agent of a fixture.
func WithAgent(agentID id.AgentID) EvidenceOption {
	return func(e *evidence.Evidence) { e.AgentID = agentID }
}

// AcquiredAt sets the capture time of a fixture.
func AcquiredAt(t time.Time) EvidenceOption {
	return func(e *evidence.Evidence) { e.AcquiredAt = t.UTC() }
}

// NewEvidence builds an evidence record with fresh IDs.
func NewEvidence(kind evidence.Kind, payload evidence.Payload, opts ...EvidenceOption) evidence.Evidence {
	ev := evidence.Evidence{
		ID:         id.EvidenceID(uuid.New()),
		SubjectID:  id.SubjectID(uuid.New()),
		AgentID:    id.AgentID(uuid.New()),
		Kind:       kind,
		AcquiredAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Payload:    payload,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev
}

// OutgoingCall is a new-shape call to rcpt lasting seconds.
func OutgoingCall(rcpt string, seconds int, opts ...EvidenceOption) evidence.Evidence {
	return NewEvidence(evidence.KindCall, evidence.Payload{
		"program":  "skype",
		"from":     "subject",
		"rcpt":     rcpt,
		"incoming": false,
		"duration": seconds,
	}, opts...)
}

// PositionFix is a position evidence with the given accuracy.
func PositionFix(lat, lon, radius float64, at time.Time, opts ...EvidenceOption) evidence.Evidence {
	opts = append([]EvidenceOption{AcquiredAt(at)}, opts...)
	return NewEvidence(evidence.KindPosition, evidence.Payload{
		"latitude":  lat,
		"longitude": lon,
		"accuracy":  radius,
		"time":      at.UTC().Format(time.RFC3339),
	}, opts...)
}
