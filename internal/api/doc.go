// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape and /v1/scrape/bulk for synchronous runs.
//   - POST /v1/jobs, GET /v1/jobs and GET /v1/jobs/{job_id} for async jobs.
package api
