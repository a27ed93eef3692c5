package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/metrics"
)

// ReconcileReport summarizes the index repairs made for one team.
type ReconcileReport struct {
	TeamID  string `json:"team_id"`
	Checked int    `json:"checked"`
	Removed int    `json:"removed"`
	Moved   int    `json:"moved"`
}

// Reconcile repairs skew between the owner index and the record store for
// teamID. Entries without a record (or owned by another team) are removed, and
// terminal jobs still listed as ongoing are moved to completed.
func (c *Coordinator) Reconcile(ctx context.Context, teamID string) (ReconcileReport, error) {
	report := ReconcileReport{TeamID: teamID}

	// Both groups are snapshotted before any repair so a job moved out of
	// ongoing is not checked again as completed.
	groups := []jobs.Group{jobs.GroupOngoing, jobs.GroupCompleted}
	snapshots := make([][]string, len(groups))
	for i, group := range groups {
		ids, err := jobs.List(ctx, c.index, teamID, group)
		if err != nil {
			return report, fmt.Errorf("list %s jobs for team %s: %w", group, teamID, err)
		}
		snapshots[i] = ids
	}

	for i, group := range groups {
		for _, id := range snapshots[i] {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Checked++
			job, err := c.store.Get(ctx, id)
			switch {
			case errors.Is(err, jobs.ErrNotFound):
				if err := c.index.Remove(ctx, teamID, id); err != nil {
					return report, fmt.Errorf("remove stale entry %s: %w", id, err)
				}
				report.Removed++
				c.logger.Info("removed stale index entry",
					zap.String("team_id", teamID),
					zap.String("job_id", id),
					zap.String("group", string(group)),
				)
				continue
			case err != nil:
				return report, fmt.Errorf("get job %s: %w", id, err)
			}

			if job.TeamID != teamID {
				if err := c.index.Remove(ctx, teamID, id); err != nil {
					return report, fmt.Errorf("remove foreign entry %s: %w", id, err)
				}
				report.Removed++
				continue
			}
			if group == jobs.GroupOngoing && job.Terminal() {
				if err := c.index.MoveToCompleted(ctx, teamID, id); err != nil {
					return report, fmt.Errorf("move job %s to completed: %w", id, err)
				}
				report.Moved++
			}
		}
	}

	metrics.ObserveReconcile("removed", report.Removed)
	metrics.ObserveReconcile("moved", report.Moved)
	c.logger.Info("reconcile finished",
		zap.String("team_id", teamID),
		zap.Int("checked", report.Checked),
		zap.Int("removed", report.Removed),
		zap.Int("moved", report.Moved),
	)
	return report, nil
}
