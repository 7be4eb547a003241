// Package main is the blogpulse entrypoint.
//
// Architecture overview:
//   - Crawl pipeline: the orchestrator walks the blog's listing pages, fetches each post through the colly fetcher
//     (paced per host and retried with exponential backoff), extracts title, body and publish date with goquery, and
//     hands the record to the upserter, which hashes content, detects watched tickers and writes to the store.
//   - Store: Postgres via pgx when db.dsn is set, otherwise an in-memory store with the same semantics. Posts are
//     keyed by their blog post id; re-crawls are idempotent.
//   - Run progress: each run streams page and post events through a non-blocking hub into a bounded run log,
//     readable at /v1/crawl/runs/{run_id}/events.
//   - Queries: per-ticker chart aggregates, sentiment counts and recent posts are served through a read-through
//     query cache (in-process go-cache or Redis) that is invalidated whenever a ticker's rows change.
//   - Configuration & plumbing: Viper populates config from file and BLOGPULSE_* env vars; zap provides structured
//     logging; Prometheus metrics are exported at /metrics.
//
// Quick checklist:
//   - Run locally: go run . serve --config config.yaml
//   - One-off crawl: go run . crawl --pages 3 (or --year 2024)
//   - Create the Postgres schema: go run . migrate
package main

import "github.com/JakeFAU/blogpulse/cmd"

func main() {
	cmd.Execute()
}
