package jobs

import "errors"

var (
	// ErrNotFound signals that no record exists for the requested job ID.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned when creating a record whose ID is taken.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrInvalidTransition marks a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStoreUnavailable wraps transient backend failures.
	ErrStoreUnavailable = errors.New("job store unavailable")
)
