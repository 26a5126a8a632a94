package position

import (
	"context"
	"errors"
	"fmt"
	"math"

	"dossier/internal/aggregate"
	"dossier/internal/geo"
	id "dossier/pkg/domain"
)

// BucketStore is the slice of the aggregate store the aggregator needs.
type BucketStore interface {
	FindPositions(ctx context.Context, subjectID id.SubjectID, box geo.Box) ([]*aggregate.Bucket, error)
	FindOrCreatePosition(ctx context.Context, key aggregate.PositionKey) (*aggregate.Bucket, bool, error)
}

// Aggregator maps stay points onto per-day position buckets so recurring
// visits to one place converge on a single canonical coordinate.
type Aggregator struct {
	store        BucketStore
	searchRadius float64
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithSearchRadius sets the minimum pre-filter distance used when looking for
// similar buckets. It should be at least the positioner's maximum radius.
func WithSearchRadius(meters float64) AggregatorOption {
	return func(a *Aggregator) {
		if meters > 0 {
			a.searchRadius = meters
		}
	}
}

// NewAggregator creates an Aggregator over store.
func NewAggregator(store BucketStore, opts ...AggregatorOption) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("position bucket store is required")
	}
	a := &Aggregator{store: store, searchRadius: DefaultMaximumRadius}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// UpsertStayPoint returns the bucket sp belongs to on day.
//
// A similar bucket of the same agent and day is returned as is. A similar
// bucket from any other day or agent lends its coordinate to a new bucket for
// this day. Without a match the bucket is created from sp itself. created
// reports whether this call inserted the bucket.
func (a *Aggregator) UpsertStayPoint(ctx context.Context, subjectID id.SubjectID, agentID id.AgentID, sp geo.StayPoint, day string) (*aggregate.Bucket, bool, error) {
	center := sp.Center()
	candidates, err := a.store.FindPositions(ctx, subjectID, geo.BoxAround(center, math.Max(sp.Radius, a.searchRadius)))
	if err != nil {
		return nil, false, fmt.Errorf("find positions: %w", err)
	}

	var sameDay, other *aggregate.Bucket
	sameDist, otherDist := math.Inf(1), math.Inf(1)
	for _, b := range candidates {
		place := b.Place()
		if !geo.Similar(place, center) {
			continue
		}
		d := geo.Distance(place, center)
		if b.Day == day && b.AgentID == agentID {
			if d < sameDist {
				sameDay, sameDist = b, d
			}
			continue
		}
		if d < otherDist {
			other, otherDist = b, d
		}
	}

	if sameDay != nil {
		return sameDay, false, nil
	}

	place := center
	if other != nil {
		place = other.Place()
	}
	b, created, err := a.store.FindOrCreatePosition(ctx, aggregate.NewPositionKey(subjectID, agentID, day, place))
	if err != nil {
		return nil, false, fmt.Errorf("create position bucket: %w", err)
	}
	return b, created, nil
}
