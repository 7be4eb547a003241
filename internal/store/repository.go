package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// DateConfidence ranks how a post's publish date was resolved. Higher values
// win; a stored date is never replaced by a lower-ranked one.
type DateConfidence int

// Resolution ranks, lowest first.
const (
	DateUnresolved DateConfidence = iota
	DateFromText
	DateFromMeta
	DateFromStructured
)

func (c DateConfidence) String() string {
	switch c {
	case DateUnresolved:
		return "unresolved"
	case DateFromText:
		return "text"
	case DateFromMeta:
		return "meta"
	case DateFromStructured:
		return "structured"
	default:
		return fmt.Sprintf("confidence(%d)", int(c))
	}
}

// Resolved reports whether the rank carries a usable date.
func (c DateConfidence) Resolved() bool {
	return c > DateUnresolved
}

// UpsertResult describes the mutation applied by an upsert.
type UpsertResult string

// Upsert outcomes.
const (
	UpsertCreated   UpsertResult = "created"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
)

// Sentiment is the class assigned to a (post, ticker) pair.
type Sentiment string

// Sentiment classes.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ParseSentiment normalizes a label into a Sentiment.
func ParseSentiment(raw string) (Sentiment, error) {
	switch s := Sentiment(strings.ToLower(strings.TrimSpace(raw))); s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return s, nil
	default:
		return "", fmt.Errorf("unknown sentiment %q", raw)
	}
}

// MentionSource records who created a mention-index row.
type MentionSource string

// Mention sources.
const (
	MentionDetector MentionSource = "detector"
	MentionLabeler  MentionSource = "labeler"
)

// Post is a persisted blog post.
type Post struct {
	ID             int64
	ExternalID     string
	URL            string
	Title          string
	Content        string
	Category       string
	ContentHash    string
	PublishedAt    *time.Time
	PublishedOn    *time.Time
	DateConfidence DateConfidence
	DateSource     string
	CrawledAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PostWrite is the normalized input to an upsert.
type PostWrite struct {
	ExternalID  string
	URL         string
	Title       string
	Content     string
	Category    string
	ContentHash string
	// PublishedAt is nil when the date is unresolved.
	PublishedAt *time.Time
	// PublishedOn is the calendar date of PublishedAt in the source timezone,
	// encoded as midnight UTC.
	PublishedOn    *time.Time
	DateConfidence DateConfidence
	DateSource     string
	CrawledAt      time.Time
	// Tickers lists detector mentions; they replace earlier detector rows.
	Tickers []string
}

// MentionSentiment is the labeler-owned judgment for a (post, ticker) pair.
type MentionSentiment struct {
	PostExternalID string    `json:"post_id"`
	Ticker         string    `json:"ticker"`
	Sentiment      Sentiment `json:"sentiment"`
	Score          float64   `json:"score"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
}

// Validate checks the row shape written by the labeler.
func (m MentionSentiment) Validate() error {
	if strings.TrimSpace(m.PostExternalID) == "" {
		return errors.New("post_id is required")
	}
	if strings.TrimSpace(m.Ticker) == "" {
		return errors.New("ticker is required")
	}
	if _, err := ParseSentiment(string(m.Sentiment)); err != nil {
		return err
	}
	if m.Score < -1 || m.Score > 1 {
		return fmt.Errorf("score %.3f out of range [-1,1]", m.Score)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence %.3f out of range [0,1]", m.Confidence)
	}
	return nil
}

// TickerRow is one mention-index row joined to its post and optional sentiment.
type TickerRow struct {
	ExternalID string
	Title      string
	// Date is the mention's calendar date encoded as midnight UTC.
	Date       time.Time
	Sentiment  Sentiment
	Score      float64
	Confidence float64
	Reasoning  string
	Analyzed   bool
}

// PostSummary is a lightweight post listing row.
type PostSummary struct {
	ExternalID  string    `json:"post_id"`
	Title       string    `json:"title"`
	Category    string    `json:"category,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	PublishedOn string    `json:"published_on"`
}

// SentimentCounts tallies sentiment rows per class.
type SentimentCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Add increments the counter for s.
func (c *SentimentCounts) Add(s Sentiment) {
	switch s {
	case SentimentPositive:
		c.Positive++
	case SentimentNegative:
		c.Negative++
	case SentimentNeutral:
		c.Neutral++
	}
}

// Total sums all classes.
func (c SentimentCounts) Total() int {
	return c.Positive + c.Negative + c.Neutral
}

// PostWriter is the write side used by the crawler.
type PostWriter interface {
	// UpsertPost atomically inserts or updates the post keyed by ExternalID and
	// replaces its detector mention rows.
	UpsertPost(ctx context.Context, w PostWrite) (UpsertResult, error)
}

// MentionLister reports the tickers currently indexed for a post.
type MentionLister interface {
	PostTickers(ctx context.Context, externalID string) ([]string, error)
}

// SentimentWriter is the write side used by the external labeler.
type SentimentWriter interface {
	// SaveSentiment replaces the (post, ticker) sentiment row and ensures a
	// mention-index row exists for the pair.
	SaveSentiment(ctx context.Context, s MentionSentiment) error
}

// TickerReader serves the date-windowed ticker queries. Bounds are inclusive
// calendar dates encoded as midnight UTC.
type TickerReader interface {
	ListTickerRows(ctx context.Context, ticker string, from, to time.Time) ([]TickerRow, error)
	LatestPostsForTicker(ctx context.Context, ticker string, from, to time.Time, limit int) ([]PostSummary, error)
	CountSentimentsByClass(ctx context.Context, ticker string, from, to time.Time) (SentimentCounts, error)
}

// Repository is the full Mention/Sentiment Store contract.
type Repository interface {
	PostWriter
	SentimentWriter
	TickerReader
	MentionLister
	GetPostByExternalID(ctx context.Context, externalID string) (Post, error)
	CountPosts(ctx context.Context) (int, error)
	Close()
}

// CalendarDate truncates t to its calendar date in loc, encoded as midnight UTC.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
