// Package coordinator drives the job lifecycle: it creates records, applies
// worker status reports, records cancellations, and keeps the per-team owner
// index in step with the record store.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/events"
	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/metrics"
)

const defaultTopic = "registry.jobs"

var (
	// ErrInvalidStatus is returned for targets that are not writable statuses.
	ErrInvalidStatus = errors.New("invalid target status")
	// ErrInvalidProgress is returned for negative progress counters.
	ErrInvalidProgress = errors.New("invalid progress counters")

	errAlreadyCancelled = errors.New("already cancelled")
	errNoProgress       = errors.New("progress unchanged")
)

// Config controls Coordinator behavior.
type Config struct {
	// Topic receives dispatch messages for new jobs.
	Topic string
	// Events receives one event per applied change. Nil disables the stream.
	Events events.Emitter
}

// Coordinator owns every write to job records and the owner index.
type Coordinator struct {
	store     jobs.RecordStore
	index     jobs.OwnerIndex
	publisher jobs.Publisher
	ids       jobs.IDGenerator
	clock     jobs.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Coordinator. A nil publisher disables dispatch.
func New(
	store jobs.RecordStore,
	index jobs.OwnerIndex,
	publisher jobs.Publisher,
	ids jobs.IDGenerator,
	clock jobs.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	return &Coordinator{
		store:     store,
		index:     index,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("coordinator"),
	}
}

// Submit records a new queued job, lists it as ongoing for its team, and
// dispatches it. A dispatch failure marks the job failed.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) (jobs.Job, error) {
	if err := sub.Validate(); err != nil {
		return jobs.Job{}, err
	}
	id, err := c.ids.NewID()
	if err != nil {
		return jobs.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := c.clock.Now()
	job := jobs.Job{
		ID:        id,
		Kind:      sub.Kind,
		TeamID:    sub.TeamID,
		OriginURL: sub.OriginURL,
		URLs:      append([]string(nil), sub.URLs...),
		Query:     sub.Query,
		Options:   sub.Options.Clone(),
		Status:    jobs.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.Create(ctx, job); err != nil {
		return jobs.Job{}, fmt.Errorf("create job %s: %w", id, err)
	}
	if err := c.index.AddOngoing(ctx, job.TeamID, job.ID); err != nil {
		c.failQuietly(ctx, id, "index registration failed")
		return jobs.Job{}, fmt.Errorf("index job %s: %w", id, err)
	}
	metrics.ObserveSubmission(string(job.Kind))
	c.emit(events.TypeSubmitted, job, "")
	c.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("team_id", job.TeamID),
		zap.String("kind", string(job.Kind)),
	)

	if c.publisher == nil {
		return job, nil
	}
	msgID, err := c.publisher.Publish(ctx, c.cfg.Topic, newDispatchMessage(job))
	if err != nil {
		metrics.ObserveDispatch("error")
		c.logger.Error("dispatch failed", zap.String("job_id", id), zap.Error(err))
		failed, ferr := c.Fail(ctx, id, "dispatch failed: "+err.Error())
		if ferr != nil {
			c.logger.Error("mark job failed", zap.String("job_id", id), zap.Error(ferr))
			return job, fmt.Errorf("dispatch job %s: %w", id, err)
		}
		return failed, fmt.Errorf("dispatch job %s: %w", id, err)
	}
	metrics.ObserveDispatch("ok")
	c.logger.Debug("job dispatched", zap.String("job_id", id), zap.String("message_id", msgID))
	return job, nil
}

// Transition moves a job to status. Transitions the state machine forbids,
// including repeats of the current status, are logged and ignored: the
// unchanged record is returned with a nil error.
func (c *Coordinator) Transition(ctx context.Context, id string, status jobs.Status) (jobs.Job, error) {
	return c.transition(ctx, id, status, "")
}

// Fail moves a job to failed and records reason.
func (c *Coordinator) Fail(ctx context.Context, id, reason string) (jobs.Job, error) {
	return c.transition(ctx, id, jobs.StatusFailed, reason)
}

func (c *Coordinator) transition(ctx context.Context, id string, to jobs.Status, reason string) (jobs.Job, error) {
	if !to.Valid() || to == jobs.StatusCancelled {
		return jobs.Job{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	var from jobs.Status
	job, err := c.store.Mutate(ctx, id, func(j *jobs.Job) error {
		from = j.Status
		if err := jobs.CheckTransition(j.Status, to); err != nil {
			return err
		}
		now := c.clock.Now()
		j.Status = to
		j.UpdatedAt = now
		if to.Terminal() {
			j.FinishedAt = &now
		}
		if to == jobs.StatusFailed && reason != "" {
			j.Error = reason
		}
		return nil
	})
	switch {
	case errors.Is(err, jobs.ErrInvalidTransition):
		metrics.ObserveTransition(string(from), string(to), "ignored")
		c.logger.Warn("ignoring status transition",
			zap.String("job_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return job, nil
	case err != nil:
		return jobs.Job{}, fmt.Errorf("transition job %s: %w", id, err)
	}

	metrics.ObserveTransition(string(from), string(to), "applied")
	c.emit(events.TypeStatus, job, from)
	c.logger.Debug("job transitioned",
		zap.String("job_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	// Only the write that reached the terminal status gets here; duplicates
	// were rejected above.
	if to.Terminal() {
		if err := c.index.MoveToCompleted(ctx, job.TeamID, job.ID); err != nil {
			return job, fmt.Errorf("move job %s to completed: %w", id, err)
		}
	}
	return job, nil
}

// Cancel flags a job as cancelled. Repeated calls are no-ops. The owner index is
// left alone; listings filter on the flag.
func (c *Coordinator) Cancel(ctx context.Context, id string) (jobs.Job, error) {
	return c.cancel(ctx, "", id)
}

// CancelOwned cancels a job only when it belongs to teamID. Jobs owned by
// another team report jobs.ErrNotFound.
func (c *Coordinator) CancelOwned(ctx context.Context, teamID, id string) (jobs.Job, error) {
	return c.cancel(ctx, teamID, id)
}

func (c *Coordinator) cancel(ctx context.Context, teamID, id string) (jobs.Job, error) {
	job, err := c.store.Mutate(ctx, id, func(j *jobs.Job) error {
		if teamID != "" && j.TeamID != teamID {
			return jobs.ErrNotFound
		}
		if j.Cancelled {
			return errAlreadyCancelled
		}
		now := c.clock.Now()
		j.Cancelled = true
		j.CancelledAt = &now
		j.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyCancelled):
		metrics.ObserveCancel("duplicate")
		return job, nil
	case errors.Is(err, jobs.ErrNotFound):
		metrics.ObserveCancel("not_found")
		return jobs.Job{}, fmt.Errorf("cancel job %s: %w", id, jobs.ErrNotFound)
	case err != nil:
		return jobs.Job{}, fmt.Errorf("cancel job %s: %w", id, err)
	}
	metrics.ObserveCancel("applied")
	c.emit(events.TypeCancelled, job, "")
	c.logger.Info("job cancelled",
		zap.String("job_id", id),
		zap.String("team_id", job.TeamID),
		zap.String("status", string(job.Status)),
	)
	return job, nil
}

// ReportProgress raises the job's counters. Values below the stored ones are
// ignored, and a completed count above the known total raises the total.
func (c *Coordinator) ReportProgress(ctx context.Context, id string, completed int, total *int) (jobs.Job, error) {
	if completed < 0 || (total != nil && *total < 0) {
		return jobs.Job{}, fmt.Errorf("%w: completed=%d", ErrInvalidProgress, completed)
	}
	job, err := c.store.Mutate(ctx, id, func(j *jobs.Job) error {
		changed := false
		if completed > j.CompletedCount {
			j.CompletedCount = completed
			changed = true
		}
		if total != nil && (j.TotalCount == nil || *total > *j.TotalCount) {
			n := *total
			j.TotalCount = &n
			changed = true
		}
		if j.TotalCount != nil && j.CompletedCount > *j.TotalCount {
			n := j.CompletedCount
			j.TotalCount = &n
			changed = true
		}
		if !changed {
			return errNoProgress
		}
		j.UpdatedAt = c.clock.Now()
		return nil
	})
	if errors.Is(err, errNoProgress) {
		return job, nil
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("report progress for job %s: %w", id, err)
	}
	c.emit(events.TypeProgress, job, "")
	return job, nil
}

// Get returns the current record for id.
func (c *Coordinator) Get(ctx context.Context, id string) (jobs.Job, error) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// GetOwned returns the record for id when it belongs to teamID and
// jobs.ErrNotFound otherwise.
func (c *Coordinator) GetOwned(ctx context.Context, teamID, id string) (jobs.Job, error) {
	job, err := c.Get(ctx, id)
	if err != nil {
		return jobs.Job{}, err
	}
	if job.TeamID != teamID {
		return jobs.Job{}, fmt.Errorf("get job %s: %w", id, jobs.ErrNotFound)
	}
	return job, nil
}

func (c *Coordinator) failQuietly(ctx context.Context, id, reason string) {
	var from jobs.Status
	job, err := c.store.Mutate(ctx, id, func(j *jobs.Job) error {
		from = j.Status
		if err := jobs.CheckTransition(j.Status, jobs.StatusFailed); err != nil {
			return err
		}
		now := c.clock.Now()
		j.Status = jobs.StatusFailed
		j.Error = reason
		j.UpdatedAt = now
		j.FinishedAt = &now
		return nil
	})
	if err != nil {
		c.logger.Error("mark job failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	c.emit(events.TypeStatus, job, from)
}

func (c *Coordinator) emit(t events.Type, job jobs.Job, from jobs.Status) {
	if c.cfg.Events == nil {
		return
	}
	evt := events.FromJob(t, job)
	evt.From = from
	c.cfg.Events.Emit(evt)
}
