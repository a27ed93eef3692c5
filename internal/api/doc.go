// Package api hosts the HTTP server, middleware, and REST handlers of the job
// registry. Notable routes:
//   - POST /v1|v2/crawl, /v1|v2/batch/scrape and /v1/deep-research submit jobs.
//   - GET and DELETE /v1|v2/crawl/{id} and /batch/scrape/{id} poll and cancel.
//   - GET /v1|v2/crawl/ongoing (alias /crawl/active) and /crawl/completed list
//     the caller's jobs.
//   - GET /v1/history/{kind} reads SQL-backed history when enabled.
//   - POST /internal/jobs/{id}/status and /progress receive worker reports.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
