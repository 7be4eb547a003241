// Package crawler implements blog-post discovery and persistence: the shared
// types, the upserter that turns extracted posts into idempotent store writes,
// and the orchestrator that drives listing and detail fetches for a crawl scope.
package crawler
