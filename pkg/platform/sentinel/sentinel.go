package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, queues and adapters return
// these (optionally wrapped) so the processor can classify failures when it logs
// and drops an entry:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: concurrent writer won an identity race
// - ErrInvalidState: persisted state cannot be decoded or is incompatible
// - ErrUnavailable: backend temporarily unavailable (timeouts, open circuit)
// - ErrLockHeld: a critical section is owned by another worker
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrLockHeld     = errors.New("lock held")
)
