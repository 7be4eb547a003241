// Package memory provides an in-process Mention/Sentiment Store for development
// and tests. It mirrors the Postgres semantics row for row.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/blogpulse/internal/store"
)

var _ store.Repository = (*Store)(nil)

type mentionRow struct {
	source store.MentionSource
	on     *time.Time
}

type sentimentKey struct {
	postID int64
	ticker string
}

// Store keeps posts, mention-index rows and sentiments in maps guarded by a
// single RWMutex; every write is atomic with respect to readers.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	posts      map[string]*store.Post
	byID       map[int64]*store.Post
	mentions   map[int64]map[string]mentionRow
	sentiments map[sentimentKey]store.MentionSentiment
	now        func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		posts:      make(map[string]*store.Post),
		byID:       make(map[int64]*store.Post),
		mentions:   make(map[int64]map[string]mentionRow),
		sentiments: make(map[sentimentKey]store.MentionSentiment),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// UpsertPost inserts or updates a post and replaces its detector mentions.
func (s *Store) UpsertPost(_ context.Context, w store.PostWrite) (store.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.posts[w.ExternalID]
	if !ok {
		s.nextID++
		post := &store.Post{
			ID:             s.nextID,
			ExternalID:     w.ExternalID,
			URL:            w.URL,
			Title:          w.Title,
			Content:        w.Content,
			Category:       w.Category,
			ContentHash:    w.ContentHash,
			PublishedAt:    copyTime(w.PublishedAt),
			PublishedOn:    copyTime(w.PublishedOn),
			DateConfidence: w.DateConfidence,
			DateSource:     w.DateSource,
			CrawledAt:      w.CrawledAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.posts[w.ExternalID] = post
		s.byID[post.ID] = post
		s.replaceDetectorMentionsLocked(post, w.Tickers)
		return store.UpsertCreated, nil
	}

	changed := existing.ContentHash != w.ContentHash
	dateImproved := w.DateConfidence > existing.DateConfidence
	if !changed && !dateImproved {
		return store.UpsertUnchanged, nil
	}

	existing.URL = w.URL
	existing.Title = w.Title
	existing.Content = w.Content
	if w.Category != "" {
		existing.Category = w.Category
	}
	existing.ContentHash = w.ContentHash
	existing.CrawledAt = w.CrawledAt
	existing.UpdatedAt = now
	if w.DateConfidence >= existing.DateConfidence && w.DateConfidence.Resolved() {
		existing.PublishedAt = copyTime(w.PublishedAt)
		existing.PublishedOn = copyTime(w.PublishedOn)
		existing.DateConfidence = w.DateConfidence
		existing.DateSource = w.DateSource
	}
	s.replaceDetectorMentionsLocked(existing, w.Tickers)
	return store.UpsertUpdated, nil
}

func (s *Store) replaceDetectorMentionsLocked(post *store.Post, tickers []string) {
	rows := s.mentions[post.ID]
	if rows == nil {
		rows = make(map[string]mentionRow)
		s.mentions[post.ID] = rows
	}
	for ticker, row := range rows {
		if row.source == store.MentionDetector {
			delete(rows, ticker)
		}
	}
	for _, ticker := range tickers {
		ticker = store.NormalizeTicker(ticker)
		if _, ok := rows[ticker]; !ok {
			rows[ticker] = mentionRow{source: store.MentionDetector}
		}
	}
	for ticker, row := range rows {
		row.on = copyTime(post.PublishedOn)
		rows[ticker] = row
	}
}

// SaveSentiment replaces the sentiment for a (post, ticker) pair.
func (s *Store) SaveSentiment(_ context.Context, m store.MentionSentiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[m.PostExternalID]
	if !ok {
		return store.ErrNotFound
	}
	m.Ticker = store.NormalizeTicker(m.Ticker)
	if m.AnalyzedAt.IsZero() {
		m.AnalyzedAt = s.now()
	}
	s.sentiments[sentimentKey{postID: post.ID, ticker: m.Ticker}] = m
	rows := s.mentions[post.ID]
	if rows == nil {
		rows = make(map[string]mentionRow)
		s.mentions[post.ID] = rows
	}
	rows[m.Ticker] = mentionRow{source: store.MentionLabeler, on: copyTime(post.PublishedOn)}
	return nil
}

// ListTickerRows returns mention rows for ticker within [from, to].
func (s *Store) ListTickerRows(_ context.Context, ticker string, from, to time.Time) ([]store.TickerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticker = store.NormalizeTicker(ticker)
	var rows []store.TickerRow
	s.eachMentionLocked(ticker, from, to, func(post *store.Post, on time.Time) {
		row := store.TickerRow{
			ExternalID: post.ExternalID,
			Title:      post.Title,
			Date:       on,
		}
		if sent, ok := s.sentiments[sentimentKey{postID: post.ID, ticker: ticker}]; ok {
			row.Sentiment = sent.Sentiment
			row.Score = sent.Score
			row.Confidence = sent.Confidence
			row.Reasoning = sent.Reasoning
			row.Analyzed = true
		}
		rows = append(rows, row)
	})
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return publishedBefore(s.posts[rows[i].ExternalID], s.posts[rows[j].ExternalID])
	})
	return rows, nil
}

// LatestPostsForTicker returns the newest posts mentioning ticker.
func (s *Store) LatestPostsForTicker(
	_ context.Context,
	ticker string,
	from, to time.Time,
	limit int,
) ([]store.PostSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticker = store.NormalizeTicker(ticker)
	type hit struct {
		post *store.Post
		on   time.Time
	}
	var hits []hit
	s.eachMentionLocked(ticker, from, to, func(post *store.Post, on time.Time) {
		hits = append(hits, hit{post: post, on: on})
	})
	sort.SliceStable(hits, func(i, j int) bool {
		if !hits[i].on.Equal(hits[j].on) {
			return hits[i].on.After(hits[j].on)
		}
		return publishedBefore(hits[j].post, hits[i].post)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]store.PostSummary, 0, len(hits))
	for _, h := range hits {
		summary := store.PostSummary{
			ExternalID:  h.post.ExternalID,
			Title:       h.post.Title,
			Category:    h.post.Category,
			PublishedOn: h.on.Format(time.DateOnly),
		}
		if h.post.PublishedAt != nil {
			summary.PublishedAt = *h.post.PublishedAt
		}
		out = append(out, summary)
	}
	return out, nil
}

// CountSentimentsByClass tallies analyzed mentions of ticker within [from, to].
func (s *Store) CountSentimentsByClass(
	_ context.Context,
	ticker string,
	from, to time.Time,
) (store.SentimentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticker = store.NormalizeTicker(ticker)
	var counts store.SentimentCounts
	s.eachMentionLocked(ticker, from, to, func(post *store.Post, _ time.Time) {
		if sent, ok := s.sentiments[sentimentKey{postID: post.ID, ticker: ticker}]; ok {
			counts.Add(sent.Sentiment)
		}
	})
	return counts, nil
}

func (s *Store) eachMentionLocked(ticker string, from, to time.Time, fn func(*store.Post, time.Time)) {
	for postID, rows := range s.mentions {
		row, ok := rows[ticker]
		if !ok || row.on == nil {
			continue
		}
		if row.on.Before(from) || row.on.After(to) {
			continue
		}
		fn(s.byID[postID], *row.on)
	}
}

// GetPostByExternalID returns a copy of the stored post.
func (s *Store) GetPostByExternalID(_ context.Context, externalID string) (store.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[externalID]
	if !ok {
		return store.Post{}, store.ErrNotFound
	}
	out := *post
	out.PublishedAt = copyTime(post.PublishedAt)
	out.PublishedOn = copyTime(post.PublishedOn)
	return out, nil
}

// CountPosts returns the number of stored posts.
func (s *Store) CountPosts(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts), nil
}

// PostTickers lists the tickers indexed for a post, sorted.
func (s *Store) PostTickers(_ context.Context, externalID string) ([]string, error) {
	return s.Mentions(externalID), nil
}

// Mentions lists the tickers indexed for a post, sorted.
func (s *Store) Mentions(externalID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[externalID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.mentions[post.ID]))
	for ticker := range s.mentions[post.ID] {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

// Close is a no-op.
func (s *Store) Close() {}

func publishedBefore(a, b *store.Post) bool {
	switch {
	case a.PublishedAt == nil && b.PublishedAt == nil:
		return strings.Compare(a.ExternalID, b.ExternalID) < 0
	case a.PublishedAt == nil:
		return false
	case b.PublishedAt == nil:
		return true
	case !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.Before(*b.PublishedAt)
	default:
		return strings.Compare(a.ExternalID, b.ExternalID) < 0
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
