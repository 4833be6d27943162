// Package main hosts the crawl session manager entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, index, session and run-history endpoints under /v1.
//     Each collector kind (web, file) is served by its own manager.
//   - Session lifecycle: the manager serializes mutations per session name, persists definitions in the configured
//     store (memory, Postgres, Redis or SQLite) and tracks live status in an in-memory registry. Runs execute in
//     background goroutines owned by the runner and can be aborted cooperatively.
//   - Collectors: web sessions crawl links with Colly under a per-host token bucket; file sessions walk a directory
//     tree confined to the configured root.
//   - Persistence & fanout: definition snapshots are archived to the configured BlobStore (memory/local/GCS) at run
//     start, run lifecycle notifications go to Pub/Sub or Kafka, and progress events are batched into the run
//     history store, logs and Prometheus.
//
// Operational notes:
//   - Startup restores every persisted definition as an idle session; run state is never restored.
//   - SIGINT/SIGTERM stop the HTTP server, abort in-flight runs and flush the progress hub before exit.
//   - Configure through SESSIOND_* env vars (e.g. SESSIOND_SERVER_PORT, SESSIOND_STORAGE_BACKEND) or a config file.
//   - Run locally: go run ./cmd/sessiond -config config.yaml
package main
