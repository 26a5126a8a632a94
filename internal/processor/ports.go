package processor

import (
	"context"

	"dossier/internal/correlation"
	"dossier/internal/evidence"
	"dossier/internal/queue"
	id "dossier/pkg/domain"
)

// Queue is the consuming side of the pending-work queue.
type Queue interface {
	Dequeue(ctx context.Context) (entry queue.Entry, ok bool, err error)
}

// EvidenceStore loads the evidence an entry references.
type EvidenceStore interface {
	Get(ctx context.Context, evidenceID id.EvidenceID) (*evidence.Evidence, error)
}

// Notifier hands new aggregates to the correlator.
type Notifier interface {
	Enqueue(ctx context.Context, n correlation.Notification) error
}
