package sandbox

import "errors"

// Sandbox errors.
var (
	// ErrBoundaryViolation is returned when a path resolves outside the
	// session root. It is never retried and never silently corrected.
	ErrBoundaryViolation = errors.New("path escapes session boundary")

	// ErrEmptySessionID is returned when a session id is blank.
	ErrEmptySessionID = errors.New("session id cannot be empty")

	// ErrSessionNotFound is returned when looking up an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)
