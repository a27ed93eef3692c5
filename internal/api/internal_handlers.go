package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/coordinator"
	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/options"
)

type statusReport struct {
	Status jobs.Status `json:"status"`
	Error  string      `json:"error"`
}

type progressReport struct {
	Completed int  `json:"completed"`
	Total     *int `json:"total"`
}

// reportStatus handles POST /internal/jobs/{job_id}/status from workers.
// Illegal or repeated transitions are accepted and leave the record unchanged.
func (s *Server) reportStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req statusReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var (
		job jobs.Job
		err error
	)
	if req.Status == jobs.StatusFailed {
		job, err = s.jobs.Fail(r.Context(), jobID, req.Error)
	} else {
		job, err = s.jobs.Transition(r.Context(), jobID, req.Status)
	}
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidStatus) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("status report failed",
			zap.String("job_id", jobID),
			zap.String("status", string(req.Status)),
			zap.Error(err),
		)
		writeStoreError(w, err, "failed to apply status")
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job, options.V1))
}

// reportProgress handles POST /internal/jobs/{job_id}/progress from workers.
func (s *Server) reportProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req progressReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.ReportProgress(r.Context(), jobID, req.Completed, req.Total)
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidProgress) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("progress report failed", zap.String("job_id", jobID), zap.Error(err))
		writeStoreError(w, err, "failed to record progress")
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job, options.V1))
}
