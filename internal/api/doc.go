// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes; GET /metrics for Prometheus.
//   - POST /v1/crawl to trigger a run (sync or background) and
//     GET /v1/crawl/runs[/{run_id}[/events]] to observe runs.
//   - GET /v1/tickers/{ticker}/sentiments|counts|posts for chart queries.
//   - PUT /v1/sentiments for the external labeler.
//   - DELETE /v1/cache, DELETE /v1/cache/tickers/{ticker} and
//     GET /v1/cache/stats for cache administration.
package api
