package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/options"
	"github.com/JakeFAU/crawl-registry/internal/storage/postgres"
)

const historyTimeout = 3 * time.Second

// listJobs handles GET /v{1,2}/crawl/{ongoing,active,completed}. It returns
// {"success": true, "crawls": [...], "incomplete": bool}; only a failed index
// snapshot turns into 503/500.
func (s *Server) listJobs(version options.Version, group jobs.Group) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		team := teamFrom(r.Context())
		listing, err := s.lister.ListForTeam(r.Context(), team, group, version)
		if err != nil {
			s.logger.Error("list jobs failed",
				zap.String("team_id", team),
				zap.String("group", string(group)),
				zap.Error(err),
			)
			writeStoreError(w, err, "failed to list jobs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"crawls":     listing.Jobs,
			"incomplete": listing.Incomplete,
		})
	}
}

// listHistory handles GET /v1/history/{kind} for maps, searches, extracts and
// deep-research. It answers 400 when history is disabled or the kind is
// unknown, and {"success": true, "data": [...]} otherwise.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.History.Enabled || s.history == nil {
		writeError(w, http.StatusBadRequest, "Database authentication is not enabled")
		return
	}
	kind, err := postgres.ParseHistoryKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	team := teamFrom(r.Context())
	entries, err := s.history.List(ctx, team, kind)
	if err != nil {
		s.logger.Error("list history failed",
			zap.String("team_id", team),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "Failed to fetch "+string(kind)+" history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": entries})
}
