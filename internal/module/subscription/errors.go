package subscription

import "errors"

var (
	// ErrUnknownEventType indicates an unrecognized provider event.
	ErrUnknownEventType = errors.New("unknown subscription event type")
	// ErrUpdateConflict indicates the optimistic state update kept losing
	// to concurrent writers. Safe to retry the whole apply sequence.
	ErrUpdateConflict = errors.New("subscription state update conflict")
)
