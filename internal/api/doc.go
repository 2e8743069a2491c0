// Package api hosts the HTTP server, middleware, and REST handlers for the
// scraper. Notable routes:
//   - POST /api/scrape to submit queries, GET /api/status/{job_id} to poll.
//   - POST /api/terminate/{job_id} to cancel, DELETE /api/clear-status/{job_id}
//     to forget a finished job.
//   - GET /api/files and the download/delete routes for CSV outputs.
//   - GET /health, /healthz for probes and /metrics for Prometheus.
package api
