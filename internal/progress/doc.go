// Package progress carries crawl run events from the orchestrator to pluggable
// sinks. Emitting never blocks the crawl: events are buffered, batched on a
// background goroutine and dropped under backpressure.
package progress
