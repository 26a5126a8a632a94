// Package lock provides the per-(subject, agent) critical section that guards
// positioner state between load and save.
package lock

import (
	"context"

	id "dossier/pkg/domain"
)

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks, waiting until the lock is free or ctx ends.
// A ctx that ends while waiting yields sentinel.ErrLockHeld.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// PositionerKey names the lock of one positioner.
func PositionerKey(subjectID id.SubjectID, agentID id.AgentID) string {
	return "positioner:" + subjectID.String() + ":" + agentID.String()
}
