package sessions

import "errors"

var (
	// ErrInvalidInput covers malformed actions, missing fields and out-of-window timestamps.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound is returned when an end action has no matching start.
	ErrSessionNotFound = errors.New("no session found")

	// ErrSessionAlreadyCompleted is returned when an end action hits a COMPLETED session.
	ErrSessionAlreadyCompleted = errors.New("session already completed")

	// ErrSessionRestarted is returned when a start replaced the session while it was being ended.
	ErrSessionRestarted = errors.New("session restarted while ending")
)
