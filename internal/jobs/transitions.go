package jobs

import "fmt"

// allowed lists the legal targets for each non-terminal status. A worker may
// finish a job before it ever reports running, so queued jobs can go straight
// to a terminal status.
var allowed = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCompleted, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// CheckTransition returns nil when from -> to is legal, or an error wrapping
// ErrInvalidTransition. Same-status writes are rejected so that duplicate
// deliveries are recognised as no-ops.
func CheckTransition(from, to Status) error {
	for _, target := range allowed[from] {
		if target == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
