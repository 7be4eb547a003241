package crawler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// RawPage is the fetched body of a single URL.
type RawPage struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	FetchedAt  time.Time
	Duration   time.Duration
}

// PostRef is a post discovered on a listing page.
type PostRef struct {
	ExternalID   string `json:"post_id"`
	URL          string `json:"url"`
	TitlePreview string `json:"title_preview,omitempty"`
}

// PostRecord is the normalized result of extracting one post page.
type PostRecord struct {
	ExternalID string
	URL        string
	Title      string
	Content    string
	Category   string
	// PublishedAt is zero when DateConfidence is store.DateUnresolved.
	PublishedAt    time.Time
	DateConfidence store.DateConfidence
	DateSource     string
	CrawledAt      time.Time
}

// DateResolved reports whether a publish date was recovered.
func (r PostRecord) DateResolved() bool {
	return r.DateConfidence.Resolved() && !r.PublishedAt.IsZero()
}

// ScopeKind selects how a crawl run bounds its work.
type ScopeKind string

// Supported scope kinds.
const (
	ScopePages ScopeKind = "pages"
	ScopeYear  ScopeKind = "year"
)

// Scope bounds a crawl run either by listing page count or calendar year.
type Scope struct {
	Kind  ScopeKind `json:"kind"`
	Pages int       `json:"pages,omitempty"`
	Year  int       `json:"year,omitempty"`
}

// PagesScope returns a scope that walks the first n listing pages.
func PagesScope(n int) Scope { return Scope{Kind: ScopePages, Pages: n} }

// YearScope returns a scope that collects posts published in year.
func YearScope(year int) Scope { return Scope{Kind: ScopeYear, Year: year} }

// Validate checks the scope against the configured limits.
func (s Scope) Validate(now time.Time, earliestYear, maxPages int) error {
	switch s.Kind {
	case ScopePages:
		if s.Pages < 1 {
			return fmt.Errorf("%w: pages must be >= 1", ErrInvalidScope)
		}
		if maxPages > 0 && s.Pages > maxPages {
			return fmt.Errorf("%w: pages must be <= %d", ErrInvalidScope, maxPages)
		}
	case ScopeYear:
		if s.Year < earliestYear || s.Year > now.Year() {
			return fmt.Errorf("%w: year must be between %d and %d", ErrInvalidScope, earliestYear, now.Year())
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopePages:
		return "pages:" + strconv.Itoa(s.Pages)
	case ScopeYear:
		return "year:" + strconv.Itoa(s.Year)
	default:
		return string(s.Kind)
	}
}

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

// Run states.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// CrawlRun is the observable state and summary of one crawl run.
type CrawlRun struct {
	ID           string     `json:"run_id"`
	Target       string     `json:"target"`
	Scope        Scope      `json:"scope"`
	Status       RunStatus  `json:"status"`
	PagesVisited int        `json:"pages_visited"`
	Found        int        `json:"found"`
	New          int        `json:"new"`
	Updated      int        `json:"updated"`
	Unchanged    int        `json:"unchanged"`
	Failed       int        `json:"failed"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	Error        string     `json:"error,omitempty"`
}

// Finished reports whether the run reached a terminal state.
func (r CrawlRun) Finished() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// Source locates the blog being crawled.
type Source struct {
	BlogID          string
	ListURLTemplate string
	PostURLTemplate string
	Location        *time.Location
}

// ListURL renders the listing URL for a 1-based page number.
func (s Source) ListURL(page int) string {
	return strings.NewReplacer(
		"{blog_id}", s.BlogID,
		"{page}", strconv.Itoa(page),
	).Replace(s.ListURLTemplate)
}

// PostURL renders the detail URL for a post identifier.
func (s Source) PostURL(externalID string) string {
	return strings.NewReplacer(
		"{blog_id}", s.BlogID,
		"{post_id}", externalID,
	).Replace(s.PostURLTemplate)
}

// Loc returns the source timezone, defaulting to UTC.
func (s Source) Loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}
