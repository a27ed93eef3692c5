// Package aggregator builds per-team job listings from the owner index and the
// record store.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/metrics"
	"github.com/JakeFAU/crawl-registry/internal/options"
)

const (
	defaultListTimeout    = 10 * time.Second
	defaultItemTimeout    = 2 * time.Second
	defaultMaxConcurrency = 16

	// batchScrapeLabel is shown for jobs without an origin URL or URL list.
	batchScrapeLabel = "Batch Scrape"

	// createdAtLayout is ISO 8601 in UTC with millisecond precision.
	createdAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ErrInvalidGroup is returned for listing groups other than ongoing or completed.
var ErrInvalidGroup = errors.New("invalid listing group")

// Config bounds the cost of a single listing.
type Config struct {
	ListTimeout    time.Duration
	ItemTimeout    time.Duration
	MaxConcurrency int
}

// JobSummary is the client-facing projection of a job in a listing.
type JobSummary struct {
	ID        string         `json:"id"`
	TeamID    string         `json:"teamId"`
	Kind      jobs.Kind      `json:"kind"`
	URL       string         `json:"url"`
	Status    jobs.Status    `json:"status"`
	CreatedAt string         `json:"created_at"`
	Options   map[string]any `json:"options"`
	Completed int            `json:"completed"`
	Total     *int           `json:"total,omitempty"`
}

// Listing is the result of ListForTeam. Incomplete is set when some records
// could not be read in time.
type Listing struct {
	Jobs       []JobSummary `json:"jobs"`
	Incomplete bool         `json:"incomplete"`
}

// Aggregator serves team listings.
type Aggregator struct {
	store  jobs.RecordStore
	index  jobs.OwnerIndex
	clock  jobs.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs an Aggregator, filling zero Config fields with defaults.
func New(store jobs.RecordStore, index jobs.OwnerIndex, clock jobs.Clock, cfg Config, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = defaultListTimeout
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	return &Aggregator{
		store:  store,
		index:  index,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("aggregator"),
	}
}

// ListForTeam snapshots the team's index group and returns the visible jobs in
// index order. Missing, cancelled, and foreign records are dropped. Records that
// fail to load are dropped and mark the listing incomplete; only a failed index
// snapshot is returned as an error.
func (a *Aggregator) ListForTeam(
	ctx context.Context,
	teamID string,
	group jobs.Group,
	version options.Version,
) (Listing, error) {
	if !group.Valid() {
		return Listing{}, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	if version != options.V1 && version != options.V2 {
		return Listing{}, fmt.Errorf("%w: %q", options.ErrUnknownVersion, version)
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ListTimeout)
	defer cancel()

	ids, err := jobs.List(ctx, a.index, teamID, group)
	if err != nil {
		metrics.ObserveListing(string(group), "error", time.Since(start))
		return Listing{}, fmt.Errorf("snapshot %s index for team %s: %w", group, teamID, err)
	}

	slots := make([]*JobSummary, len(ids))
	var incomplete atomic.Bool
	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			summary, ok := a.load(ctx, teamID, group, version, id)
			if !ok {
				incomplete.Store(true)
				return nil
			}
			slots[i] = summary
			return nil
		})
	}
	_ = g.Wait()

	listing := Listing{Jobs: make([]JobSummary, 0, len(ids)), Incomplete: incomplete.Load()}
	for _, s := range slots {
		if s != nil {
			listing.Jobs = append(listing.Jobs, *s)
		}
	}

	result := "complete"
	if listing.Incomplete {
		result = "partial"
	}
	metrics.ObserveListing(string(group), result, time.Since(start))
	return listing, nil
}

// load fetches one record. It returns (nil, true) for records that are
// legitimately hidden and (nil, false) when the record could not be read.
func (a *Aggregator) load(
	ctx context.Context,
	teamID string,
	group jobs.Group,
	version options.Version,
	id string,
) (*JobSummary, bool) {
	itemCtx, cancel := context.WithTimeout(ctx, a.cfg.ItemTimeout)
	defer cancel()

	job, err := a.store.Get(itemCtx, id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		metrics.ObserveIndexSkew(string(group), "not_found")
		a.logger.Debug("index entry without record",
			zap.String("team_id", teamID),
			zap.String("job_id", id),
			zap.String("group", string(group)),
		)
		return nil, true
	case err != nil:
		a.logger.Warn("job record unavailable",
			zap.String("team_id", teamID),
			zap.String("job_id", id),
			zap.Error(err),
		)
		return nil, false
	}

	if job.TeamID != teamID {
		metrics.ObserveIndexSkew(string(group), "foreign")
		a.logger.Debug("index entry owned by another team",
			zap.String("team_id", teamID),
			zap.String("job_id", id),
			zap.String("owner", job.TeamID),
		)
		return nil, true
	}
	if job.Cancelled {
		return nil, true
	}
	if version == options.V2 && job.Options.Crawler == nil {
		return nil, true
	}
	summary := a.summarize(job, version)
	return &summary, true
}

func (a *Aggregator) summarize(job jobs.Job, version options.Version) JobSummary {
	created := job.CreatedAt
	if created.IsZero() {
		created = a.clock.Now()
	}
	opts, err := options.FromCanonical(version, job.Options)
	if err != nil {
		a.logger.Warn("render options", zap.String("job_id", job.ID), zap.Error(err))
	}
	var total *int
	if job.TotalCount != nil {
		n := *job.TotalCount
		total = &n
	}
	return JobSummary{
		ID:        job.ID,
		TeamID:    job.TeamID,
		Kind:      job.Kind,
		URL:       displayURL(job),
		Status:    job.Status,
		CreatedAt: created.UTC().Format(createdAtLayout),
		Options:   opts,
		Completed: job.CompletedCount,
		Total:     total,
	}
}

func displayURL(job jobs.Job) string {
	if job.OriginURL != "" {
		return job.OriginURL
	}
	if len(job.URLs) > 0 {
		return job.URLs[0]
	}
	return batchScrapeLabel
}
