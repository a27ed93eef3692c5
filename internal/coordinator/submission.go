package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/options"
)

// ErrInvalidSubmission is returned when a submission is missing required fields.
var ErrInvalidSubmission = errors.New("invalid submission")

// Submission describes a job a team asks the registry to run.
type Submission struct {
	Kind      jobs.Kind
	TeamID    string
	OriginURL string
	URLs      []string
	Query     string
	Options   options.Canonical
}

// Validate checks the fields required by each job kind.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.TeamID) == "" {
		return fmt.Errorf("%w: team id is required", ErrInvalidSubmission)
	}
	switch s.Kind {
	case jobs.KindCrawl:
		if strings.TrimSpace(s.OriginURL) == "" {
			return fmt.Errorf("%w: crawl requires a url", ErrInvalidSubmission)
		}
	case jobs.KindBatchScrape:
		if len(s.URLs) == 0 {
			return fmt.Errorf("%w: batch scrape requires at least one url", ErrInvalidSubmission)
		}
		for _, u := range s.URLs {
			if strings.TrimSpace(u) == "" {
				return fmt.Errorf("%w: batch scrape urls must be non-empty", ErrInvalidSubmission)
			}
		}
	case jobs.KindResearch:
		if strings.TrimSpace(s.Query) == "" {
			return fmt.Errorf("%w: research requires a query", ErrInvalidSubmission)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSubmission, s.Kind)
	}
	return nil
}

// DispatchMessage is the payload handed to the worker pipeline for each
// accepted job.
type DispatchMessage struct {
	JobID     string            `json:"job_id"`
	Kind      jobs.Kind         `json:"kind"`
	TeamID    string            `json:"team_id"`
	OriginURL string            `json:"origin_url,omitempty"`
	URLs      []string          `json:"urls,omitempty"`
	Query     string            `json:"query,omitempty"`
	Options   options.Canonical `json:"options"`
	CreatedAt time.Time         `json:"created_at"`
}

func newDispatchMessage(job jobs.Job) DispatchMessage {
	return DispatchMessage{
		JobID:     job.ID,
		Kind:      job.Kind,
		TeamID:    job.TeamID,
		OriginURL: job.OriginURL,
		URLs:      job.URLs,
		Query:     job.Query,
		Options:   job.Options,
		CreatedAt: job.CreatedAt,
	}
}

// MessageKey partitions dispatch messages by job.
func (m DispatchMessage) MessageKey() string {
	return m.JobID
}
