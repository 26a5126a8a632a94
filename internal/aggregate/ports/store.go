package ports

import (
	"context"

	"dossier/internal/aggregate"
	"dossier/internal/geo"
	id "dossier/pkg/domain"
)

// Store persists aggregate buckets. Every mutation is atomic at the store so
// concurrent workers never read-modify-write counters.
type Store interface {
	// IncrementCommunication finds or creates the bucket for key and adds one
	// to count and weight to size. wasNew is true for the creating call only.
	IncrementCommunication(ctx context.Context, key aggregate.CommunicationKey, weight int64) (bucket *aggregate.Bucket, wasNew bool, err error)

	// FindOrCreatePosition returns the position bucket for key, creating it
	// with zero counters when absent.
	FindOrCreatePosition(ctx context.Context, key aggregate.PositionKey) (bucket *aggregate.Bucket, created bool, err error)

	// FindPositions returns the subject's position buckets whose canonical
	// coordinate lies inside box, across all days.
	FindPositions(ctx context.Context, subjectID id.SubjectID, box geo.Box) ([]*aggregate.Bucket, error)

	// RecordTimeframe adds tf to the bucket's timeframe set and increments
	// count when it was not already present.
	RecordTimeframe(ctx context.Context, bucketID id.BucketID, tf aggregate.Timeframe) (wasNew bool, err error)

	SummaryContains(ctx context.Context, subjectID id.SubjectID, kind, peer string) (bool, error)
	SummaryAdd(ctx context.Context, subjectID id.SubjectID, kind, peer string) error

	// RebuildSummary recomputes the summary index from the communication
	// buckets and returns the number of tokens.
	RebuildSummary(ctx context.Context, subjectID id.SubjectID) (int, error)

	// LoadPositionerState returns sentinel.ErrNotFound when nothing was saved.
	LoadPositionerState(ctx context.Context, subjectID id.SubjectID, agentID id.AgentID) ([]byte, error)
	SavePositionerState(ctx context.Context, subjectID id.SubjectID, agentID id.AgentID, state []byte) error

	Query(ctx context.Context, subjectID id.SubjectID, filter aggregate.Filter) ([]*aggregate.Bucket, error)

	// RunInTx runs fn as one unit of work where the backend supports it. Store
	// calls made with the ctx passed to fn join that unit.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
