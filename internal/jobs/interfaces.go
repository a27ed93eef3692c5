package jobs

import (
	"context"
	"time"
)

// MutateFunc edits a record in place. Returning an error aborts the write.
// Implementations may invoke it more than once for a single Mutate call, so it
// must not carry side effects beyond the record it is handed.
type MutateFunc func(job *Job) error

// RecordStore persists one record per job ID.
//
// Mutate is atomic per ID: concurrent calls on the same ID serialize, calls on
// different IDs never wait on each other.
type RecordStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Put(ctx context.Context, job Job) error
	Mutate(ctx context.Context, id string, fn MutateFunc) (Job, error)
}

// OwnerIndex keeps per-team ongoing and completed sets of job IDs.
//
// A job is visible in at most one set for its team at any instant. List calls
// return snapshots that later mutations never alter.
type OwnerIndex interface {
	AddOngoing(ctx context.Context, teamID, jobID string) error
	MoveToCompleted(ctx context.Context, teamID, jobID string) error
	ListOngoing(ctx context.Context, teamID string) ([]string, error)
	ListCompleted(ctx context.Context, teamID string) ([]string, error)
	Remove(ctx context.Context, teamID, jobID string) error
}

// Publisher dispatches submitted jobs to the worker pipeline.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// List returns the snapshot for group from idx.
func List(ctx context.Context, idx OwnerIndex, teamID string, group Group) ([]string, error) {
	if group == GroupCompleted {
		return idx.ListCompleted(ctx, teamID)
	}
	return idx.ListOngoing(ctx, teamID)
}

// Keyed is implemented by payloads that carry a partitioning key for the
// transport (Kafka message key, Pub/Sub attribute).
type Keyed interface {
	MessageKey() string
}
