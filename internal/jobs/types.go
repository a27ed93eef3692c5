// Package jobs defines the job record, its lifecycle, and the storage
// contracts shared by the registry subsystems.
package jobs

import (
	"time"

	"github.com/JakeFAU/crawl-registry/internal/options"
)

// Status represents the lifecycle state of a job.
type Status string

// Status values persisted in the record store.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusCancelled is accepted on the wire but never written by the
	// coordinator; cancellation is carried by Job.Cancelled.
	StatusCancelled Status = "cancelled"
)

// Kind distinguishes the job families tracked by the registry.
type Kind string

// Supported job kinds.
const (
	KindCrawl       Kind = "crawl"
	KindBatchScrape Kind = "batch_scrape"
	KindResearch    Kind = "research"
)

// Group names one of the two per-team listing buckets.
type Group string

// Listing groups maintained by the owner index.
const (
	GroupOngoing   Group = "ongoing"
	GroupCompleted Group = "completed"
)

// Job is the authoritative record persisted for each submitted job.
type Job struct {
	ID             string            `json:"id"`
	Kind           Kind              `json:"kind"`
	TeamID         string            `json:"team_id"`
	OriginURL      string            `json:"origin_url,omitempty"`
	URLs           []string          `json:"urls,omitempty"`
	Query          string            `json:"query,omitempty"`
	Options        options.Canonical `json:"options"`
	Status         Status            `json:"status"`
	Cancelled      bool              `json:"cancelled"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	CompletedCount int               `json:"completed_count"`
	TotalCount     *int              `json:"total_count,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Clone returns a deep copy so callers never share slices or maps with a store.
func (j Job) Clone() Job {
	cp := j
	if j.URLs != nil {
		cp.URLs = append([]string(nil), j.URLs...)
	}
	cp.Options = j.Options.Clone()
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	if j.CancelledAt != nil {
		t := *j.CancelledAt
		cp.CancelledAt = &t
	}
	if j.TotalCount != nil {
		n := *j.TotalCount
		cp.TotalCount = &n
	}
	return cp
}

// Terminal reports whether the job has reached a sink status.
func (j Job) Terminal() bool {
	return j.Status.Terminal()
}

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether g names a listing group.
func (g Group) Valid() bool {
	return g == GroupOngoing || g == GroupCompleted
}
