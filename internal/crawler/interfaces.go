package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a single URL, applying its own pacing and retries.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (RawPage, error)
}

// Extractor turns fetched pages into structured records.
type Extractor interface {
	// ParseListing returns post references in listing order; URLs are left empty.
	ParseListing(page RawPage) ([]PostRef, error)
	Extract(page RawPage) (PostRecord, error)
}

// MentionDetector finds watched tickers in post text.
type MentionDetector interface {
	Detect(title, content string) []string
}

// TickerInvalidator drops cached query results for a ticker.
type TickerInvalidator interface {
	InvalidateTicker(ctx context.Context, ticker string) error
}

// RetryPolicy determines retry/backoff behavior for fetch attempts.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for crawl runs.
type IDGenerator interface {
	NewID() (string, error)
}
