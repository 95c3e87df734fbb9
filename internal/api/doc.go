// Package api hosts the status HTTP server exposed while a crawl runs.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/report and /v1/report/sites/{site} for the latest crawl report.
package api
