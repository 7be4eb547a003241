package chart

import (
	"sort"
	"time"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// Marker tells the renderer how to paint a date.
type Marker string

// Markers. A date with only raw mentions is kept distinct from one whose
// mentions were judged neutral so the renderer can leave it uncolored.
const (
	MarkerAnalyzed    Marker = "analyzed"
	MarkerMentionOnly Marker = "mention_only"
)

// Pair is one (post, ticker) mention on a date.
type Pair struct {
	PostID     string          `json:"post_id"`
	Title      string          `json:"title"`
	Analyzed   bool            `json:"analyzed"`
	Sentiment  store.Sentiment `json:"sentiment,omitempty"`
	Score      float64         `json:"score,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// DateBucket groups the pairs for one calendar date.
type DateBucket struct {
	Date            string                `json:"date"`
	Marker          Marker                `json:"marker"`
	SentimentCounts store.SentimentCounts `json:"sentiment_counts"`
	MentionOnly     int                   `json:"mention_only"`
	Pairs           []Pair                `json:"pairs"`
}

// Summary totals a whole period.
type Summary struct {
	store.SentimentCounts
	Analyzed          int     `json:"analyzed"`
	TotalMentions     int     `json:"total_mentions"`
	AverageConfidence float64 `json:"average_confidence"`
}

// Data is the chart payload for one ticker and period.
type Data struct {
	Ticker string `json:"ticker"`
	Period Period `json:"period"`
	From   string `json:"from"`
	To     string `json:"to"`
	// Dates lists the keys of ByDate in ascending order.
	Dates   []string              `json:"dates"`
	ByDate  map[string]DateBucket `json:"sentiment_by_date"`
	Summary Summary               `json:"summary"`
}

// Aggregate groups rows by their calendar date. Rows arrive with the date
// already normalized by the store, so no per-row timezone math happens here.
func Aggregate(rows []store.TickerRow) (map[string]DateBucket, Summary) {
	buckets := make(map[string]DateBucket)
	var (
		summary       Summary
		confidenceSum float64
	)
	for _, row := range rows {
		key := row.Date.Format(time.DateOnly)
		bucket, ok := buckets[key]
		if !ok {
			bucket = DateBucket{Date: key, Marker: MarkerMentionOnly}
		}
		pair := Pair{PostID: row.ExternalID, Title: row.Title, Analyzed: row.Analyzed}
		if row.Analyzed {
			pair.Sentiment = row.Sentiment
			pair.Score = row.Score
			pair.Confidence = row.Confidence
			pair.Reasoning = row.Reasoning
			bucket.SentimentCounts.Add(row.Sentiment)
			bucket.Marker = MarkerAnalyzed
			summary.SentimentCounts.Add(row.Sentiment)
			summary.Analyzed++
			confidenceSum += row.Confidence
		} else {
			bucket.MentionOnly++
		}
		bucket.Pairs = append(bucket.Pairs, pair)
		buckets[key] = bucket
		summary.TotalMentions++
	}
	if summary.Analyzed > 0 {
		summary.AverageConfidence = confidenceSum / float64(summary.Analyzed)
	}
	return buckets, summary
}

func sortedDates(buckets map[string]DateBucket) []string {
	dates := make([]string, 0, len(buckets))
	for d := range buckets {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}
