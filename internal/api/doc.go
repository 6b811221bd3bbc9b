// Package api hosts the optional status server for a running crawl:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/crawl/status for the live progress view.
package api
