// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/indexes for the index catalog.
//   - /v1/crawls/{kind}/... for session upsert, run, abort, delete and listing.
//   - GET /v1/crawls/{kind}/{name}/runs and /v1/runs/{run_id} for run history
//     via the store.RunRepository interface.
package api
