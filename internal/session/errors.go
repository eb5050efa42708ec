package session

import "errors"

var (
	// ErrNotFound means no session matched the lookup.
	ErrNotFound = errors.New("session: not found")

	// ErrLeadOwned means the lead already has an open session, so a new
	// one cannot be created. Callers that race on creation treat this as
	// a skip, not a failure.
	ErrLeadOwned = errors.New("session: lead already has an open session")

	// ErrInvalidTransition means the requested state change is not legal
	// from the session's current status, e.g. ending an already-ended
	// session or releasing one that was never taken over.
	ErrInvalidTransition = errors.New("session: invalid state transition")
)
