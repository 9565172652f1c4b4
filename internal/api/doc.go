// Package api hosts the operational HTTP server:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources plus enable/disable for the source registry.
//   - GET /v1/media for fresh read URLs of stored images.
//   - GET /v1/classify to preview category normalization.
package api
