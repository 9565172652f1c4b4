// Package cmd implements the newsingest command line.
//
// Architecture overview:
//   - Sources: each configured source gets a worker.Worker that polls its feed,
//     listing page or API on its own interval. Items inside one poll are
//     processed sequentially so the per-source rate limit holds in request order.
//   - Fetching: every request goes through fetcher.Executor, which waits on the
//     shared ratelimit.Limiter, retries transient failures with backoff and
//     honors Retry-After on 429s. Colly issues plain GETs; chromedp renders
//     sources marked headless.
//   - Ingestion: ingest.Coordinator skips URLs already stored, resolves media
//     references to storage keys, normalizes categories and inserts each article
//     in its own transaction. The unique URL constraint is authoritative.
//   - Storage: Postgres (pgx) or SQLite for articles, S3-compatible (minio) or
//     GCS for images, optional Pub/Sub events after each insert.
//   - Operations: chi serves /healthz, /readyz, /metrics and a small /v1 API for
//     sources, presigned media URLs and classifier previews.
//
// Environment variables use the NEWSINGEST_ prefix with dots replaced by
// underscores, e.g. NEWSINGEST_DB_DSN or NEWSINGEST_STORAGE_SECRET_KEY.
package cmd
