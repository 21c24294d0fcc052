package session

import "errors"

var (
	// ErrSessionNotFound is returned for operations on an absent or already
	// ended session. Chat surfaces usually gate on IsActive, so most callers
	// treat this as a silent no-op.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidWeeks is returned for an out-of-range week selection. The
	// caller is expected to re-prompt, not to fail.
	ErrInvalidWeeks = errors.New("invalid week selection")

	// ErrNoPreviousVote is returned by Revote when the session never had a
	// vote to recreate.
	ErrNoPreviousVote = errors.New("no previous vote")

	// ErrGatewayUnavailable wraps failures of the external vote service.
	ErrGatewayUnavailable = errors.New("vote gateway unavailable")

	// ErrBusy is returned when a vote creation for the same session is
	// already in flight.
	ErrBusy = errors.New("vote creation already in progress")
)
