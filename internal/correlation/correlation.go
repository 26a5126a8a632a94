// Package correlation hands new aggregates to the downstream link-graph
// correlator. Delivery is fire-and-forget.
package correlation

import (
	"context"
	"time"

	id "dossier/pkg/domain"
)

// ReasonAggregate marks notifications caused by a new bucket or timeframe.
const ReasonAggregate = "aggregate"

// Notification asks the correlator to look at one bucket.
type Notification struct {
	SubjectID id.SubjectID `json:"subject_id"`
	BucketID  id.BucketID  `json:"bucket_id"`
	Reason    string       `json:"reason"`
	At        time.Time    `json:"at"`
}

// Notifier enqueues correlation work. An error means the notification was
// rejected up front; later delivery failures are only logged.
type Notifier interface {
	Enqueue(ctx context.Context, n Notification) error
}
