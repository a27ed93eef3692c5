// Package events streams job lifecycle changes to downstream sinks.
//
// The coordinator emits one Event per applied change. A Hub batches events off
// the request path and fans each batch out to its sinks; emitting never blocks
// and events are dropped under sustained backpressure.
package events

import (
	"errors"
	"time"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
)

// Type names the lifecycle change an Event records.
type Type string

// Lifecycle event types.
const (
	TypeSubmitted Type = "job.submitted"
	TypeStatus    Type = "job.status"
	TypeCancelled Type = "job.cancelled"
	TypeProgress  Type = "job.progress"
)

// Event is one applied change to a job record.
type Event struct {
	Type      Type        `json:"type"`
	JobID     string      `json:"job_id"`
	TeamID    string      `json:"team_id"`
	Kind      jobs.Kind   `json:"kind"`
	Status    jobs.Status `json:"status"`
	From      jobs.Status `json:"from,omitempty"`
	Cancelled bool        `json:"cancelled"`
	Completed int         `json:"completed"`
	Total     *int        `json:"total,omitempty"`
	Error     string      `json:"error,omitempty"`
	At        time.Time   `json:"at"`
}

// FromJob snapshots job into an Event of type t.
func FromJob(t Type, job jobs.Job) Event {
	evt := Event{
		Type:      t,
		JobID:     job.ID,
		TeamID:    job.TeamID,
		Kind:      job.Kind,
		Status:    job.Status,
		Cancelled: job.Cancelled,
		Completed: job.CompletedCount,
		Error:     job.Error,
		At:        job.UpdatedAt,
	}
	if job.TotalCount != nil {
		n := *job.TotalCount
		evt.Total = &n
	}
	return evt
}

// MessageKey keys events by job so a partitioned transport keeps one job's
// events in order.
func (e Event) MessageKey() string {
	return e.JobID
}

// Validate ensures the event identifies a job and a change.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("event job id is required")
	}
	switch e.Type {
	case TypeSubmitted, TypeStatus, TypeCancelled, TypeProgress:
		return nil
	default:
		return errors.New("event type is invalid")
	}
}

// Emitter publishes individual events. Hub satisfies it; a nil Emitter in the
// coordinator disables the stream.
type Emitter interface {
	Emit(evt Event)
}
