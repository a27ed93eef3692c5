package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/aggregator"
	"github.com/JakeFAU/crawl-registry/internal/config"
	"github.com/JakeFAU/crawl-registry/internal/coordinator"
	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/metrics"
	"github.com/JakeFAU/crawl-registry/internal/options"
	"github.com/JakeFAU/crawl-registry/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-registry/internal/storage/postgres"
	"github.com/JakeFAU/crawl-registry/internal/telemetry"
)

const (
	defaultRequestTimeout = 60 * time.Second
	readyTimeout          = 2 * time.Second
)

// JobService is the lifecycle surface the handlers drive.
type JobService interface {
	Submit(ctx context.Context, sub coordinator.Submission) (jobs.Job, error)
	GetOwned(ctx context.Context, teamID, id string) (jobs.Job, error)
	CancelOwned(ctx context.Context, teamID, id string) (jobs.Job, error)
	Transition(ctx context.Context, id string, status jobs.Status) (jobs.Job, error)
	Fail(ctx context.Context, id, reason string) (jobs.Job, error)
	ReportProgress(ctx context.Context, id string, completed int, total *int) (jobs.Job, error)
}

// Lister serves team listings.
type Lister interface {
	ListForTeam(ctx context.Context, teamID string, group jobs.Group, version options.Version) (aggregator.Listing, error)
}

// HistoryReader serves SQL-backed team history.
type HistoryReader interface {
	List(ctx context.Context, teamID string, kind postgres.HistoryKind) ([]postgres.HistoryEntry, error)
}

// ReadyCheck reports whether a downstream dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the coordinator, aggregator, and history store.
type Server struct {
	router  chi.Router
	jobs    JobService
	lister  Lister
	history HistoryReader
	limiter *ratelimit.Limiter
	checks  []ReadyCheck
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. history may be nil
// when history.enabled is false.
func NewServer(
	svc JobService,
	lister Lister,
	history HistoryReader,
	cfg config.Config,
	logger *zap.Logger,
	checks ...ReadyCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:    svc,
		lister:  lister,
		history: history,
		limiter: ratelimit.New(ratelimit.Config{
			SubmissionsPerSecond: cfg.RateLimit.SubmissionsPerSecond,
			Burst:                cfg.RateLimit.Burst,
		}),
		checks: checks,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(telemetry.Middleware(otel.GetTracerProvider()))
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	for _, version := range []options.Version{options.V1, options.V2} {
		r.Route("/"+string(version), func(r chi.Router) {
			r.Use(teamMiddleware(cfg.Auth))

			r.Route("/crawl", func(r chi.Router) {
				r.Post("/", s.submitCrawl(version))
				r.Get("/ongoing", s.listJobs(version, jobs.GroupOngoing))
				r.Get("/active", s.listJobs(version, jobs.GroupOngoing))
				r.Get("/completed", s.listJobs(version, jobs.GroupCompleted))
				r.Get("/{job_id}", s.getJob(version))
				r.Delete("/{job_id}", s.cancelJob)
			})
			r.Route("/batch/scrape", func(r chi.Router) {
				r.Post("/", s.submitBatchScrape(version))
				r.Get("/{job_id}", s.getJob(version))
				r.Delete("/{job_id}", s.cancelJob)
			})
			if version == options.V1 {
				r.Post("/deep-research", s.submitResearch)
				r.Get("/deep-research/{job_id}", s.getJob(version))
				r.Get("/history/{kind}", s.listHistory)
			}
		})
	}

	r.Route("/internal/jobs/{job_id}", func(r chi.Router) {
		r.Use(internalTokenMiddleware(cfg.Server.InternalToken))
		r.Post("/status", s.reportStatus)
		r.Post("/progress", s.reportProgress)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	for _, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
