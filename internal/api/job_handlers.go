package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/coordinator"
	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/metrics"
	"github.com/JakeFAU/crawl-registry/internal/options"
)

// jobView is the status payload returned to pollers.
type jobView struct {
	Success    bool           `json:"success"`
	ID         string         `json:"id"`
	Kind       jobs.Kind      `json:"kind"`
	Status     jobs.Status    `json:"status"`
	Cancelled  bool           `json:"cancelled"`
	URL        string         `json:"url,omitempty"`
	URLs       []string       `json:"urls,omitempty"`
	Query      string         `json:"query,omitempty"`
	Completed  int            `json:"completed"`
	Total      *int           `json:"total,omitempty"`
	Error      string         `json:"error,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func toJobView(job jobs.Job, version options.Version) jobView {
	view := jobView{
		Success:    true,
		ID:         job.ID,
		Kind:       job.Kind,
		Status:     job.Status,
		Cancelled:  job.Cancelled,
		URL:        job.OriginURL,
		URLs:       job.URLs,
		Query:      job.Query,
		Completed:  job.CompletedCount,
		Total:      job.TotalCount,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		FinishedAt: job.FinishedAt,
	}
	if opts, err := options.FromCanonical(version, job.Options); err == nil {
		view.Options = opts
	}
	return view
}

func (s *Server) submitCrawl(version options.Version) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := decodeBody(w, r)
		if !ok {
			return
		}
		url, err := takeString(raw, "url")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts, err := options.ToCanonical(version, options.ShapeCrawl, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.submit(w, r, version, "crawl", coordinator.Submission{
			Kind:      jobs.KindCrawl,
			TeamID:    teamFrom(r.Context()),
			OriginURL: url,
			Options:   opts,
		})
	}
}

func (s *Server) submitBatchScrape(version options.Version) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := decodeBody(w, r)
		if !ok {
			return
		}
		urls, err := takeStrings(raw, "urls")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts, err := options.ToCanonical(version, options.ShapeBatchScrape, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.submit(w, r, version, "batch/scrape", coordinator.Submission{
			Kind:    jobs.KindBatchScrape,
			TeamID:  teamFrom(r.Context()),
			URLs:    urls,
			Options: opts,
		})
	}
}

func (s *Server) submitResearch(w http.ResponseWriter, r *http.Request) {
	raw, ok := decodeBody(w, r)
	if !ok {
		return
	}
	query, err := takeString(raw, "query")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := options.ToCanonical(options.V1, options.ShapeResearch, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, options.V1, "deep-research", coordinator.Submission{
		Kind:    jobs.KindResearch,
		TeamID:  teamFrom(r.Context()),
		Query:   query,
		Options: opts,
	})
}

func (s *Server) submit(
	w http.ResponseWriter,
	r *http.Request,
	version options.Version,
	path string,
	sub coordinator.Submission,
) {
	if !s.limiter.Allow(sub.TeamID) {
		metrics.ObserveRateLimited(string(sub.Kind))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}
	job, err := s.jobs.Submit(r.Context(), sub)
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidSubmission) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit job failed", zap.String("kind", string(sub.Kind)), zap.Error(err))
		writeStoreError(w, err, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      job.ID,
		"url":     fmt.Sprintf("/%s/%s/%s", version, path, job.ID),
	})
}

func (s *Server) getJob(version options.Version) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		job, err := s.jobs.GetOwned(r.Context(), teamFrom(r.Context()), jobID)
		if err != nil {
			if !errors.Is(err, jobs.ErrNotFound) {
				s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
			}
			writeStoreError(w, err, "failed to load job")
			return
		}
		writeJSON(w, http.StatusOK, toJobView(job, version))
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.CancelOwned(r.Context(), teamFrom(r.Context()), jobID)
	if err != nil {
		if !errors.Is(err, jobs.ErrNotFound) {
			s.logger.Error("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
		}
		writeStoreError(w, err, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"id":        job.ID,
		"status":    "cancelled",
		"jobStatus": job.Status,
	})
}

// writeStoreError maps registry errors to status codes: 404 for unknown or
// foreign jobs, 503 when the store is unreachable, 500 otherwise.
func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	return raw, true
}

// takeString removes a required string field from raw so the remainder can be
// decoded as options.
func takeString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	delete(raw, key)
	s, isString := v.(string)
	if !ok || !isString || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func takeStrings(raw map[string]any, key string) ([]string, error) {
	v, ok := raw[key]
	delete(raw, key)
	items, isList := v.([]any)
	if !ok || !isList || len(items) == 0 {
		return nil, fmt.Errorf("%s must be a non-empty list", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, isString := item.(string)
		if !isString || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%s must contain only non-empty strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
