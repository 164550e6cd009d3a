package triage

import "errors"

var (
	// ErrValidation marks input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a duplicate active triage or an operation on a terminal record.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned when a triage record or admission does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable wraps persistence and directory failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
