package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/blogpulse/internal/store"
)

const (
	selectPostForSentimentSQL = `SELECT id, published_on FROM posts WHERE external_id = $1`

	upsertSentimentSQL = `
INSERT INTO mention_sentiments (post_id, ticker, sentiment, score, confidence, reasoning, analyzed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (post_id, ticker) DO UPDATE SET
	sentiment = EXCLUDED.sentiment,
	score = EXCLUDED.score,
	confidence = EXCLUDED.confidence,
	reasoning = EXCLUDED.reasoning,
	analyzed_at = EXCLUDED.analyzed_at`

	insertLabelerMentionSQL = `
INSERT INTO post_mentions (post_id, ticker, mentioned_on, source)
VALUES ($1, $2, $3, 'labeler')
ON CONFLICT (post_id, ticker) DO UPDATE SET source = 'labeler'`

	postTickersSQL = `
SELECT m.ticker
FROM post_mentions m
JOIN posts p ON p.id = m.post_id
WHERE p.external_id = $1
ORDER BY m.ticker`

	listTickerRowsSQL = `
SELECT p.external_id, p.title, m.mentioned_on,
	s.sentiment, s.score, s.confidence, s.reasoning
FROM post_mentions m
JOIN posts p ON p.id = m.post_id
LEFT JOIN mention_sentiments s ON s.post_id = m.post_id AND s.ticker = m.ticker
WHERE m.ticker = $1 AND m.mentioned_on BETWEEN $2 AND $3
ORDER BY m.mentioned_on, p.published_at NULLS LAST, p.external_id`

	latestPostsSQL = `
SELECT p.external_id, p.title, p.category, p.published_at, m.mentioned_on
FROM post_mentions m
JOIN posts p ON p.id = m.post_id
WHERE m.ticker = $1 AND m.mentioned_on BETWEEN $2 AND $3
ORDER BY m.mentioned_on DESC, p.published_at DESC NULLS LAST, p.external_id DESC
LIMIT $4`

	countSentimentsSQL = `
SELECT s.sentiment, COUNT(*)
FROM post_mentions m
JOIN mention_sentiments s ON s.post_id = m.post_id AND s.ticker = m.ticker
WHERE m.ticker = $1 AND m.mentioned_on BETWEEN $2 AND $3
GROUP BY s.sentiment`

	// defaultLatestLimit caps LatestPostsForTicker when no limit is given.
	defaultLatestLimit = 1000
)

// SaveSentiment replaces the (post, ticker) sentiment and ensures the pair is
// present in the mention index. A detector row is promoted to a labeler row so
// later crawls no longer remove it.
func (s *Store) SaveSentiment(ctx context.Context, m store.MentionSentiment) error {
	ticker := store.NormalizeTicker(m.Ticker)
	analyzedAt := m.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			postID      int64
			publishedOn *time.Time
		)
		err := tx.QueryRow(ctx, selectPostForSentimentSQL, m.PostExternalID).Scan(&postID, &publishedOn)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup post %s: %w", m.PostExternalID, err)
		}
		if _, err := tx.Exec(ctx, upsertSentimentSQL,
			postID,
			ticker,
			string(m.Sentiment),
			m.Score,
			m.Confidence,
			m.Reasoning,
			analyzedAt,
		); err != nil {
			return fmt.Errorf("upsert sentiment: %w", err)
		}
		if _, err := tx.Exec(ctx, insertLabelerMentionSQL, postID, ticker, publishedOn); err != nil {
			return fmt.Errorf("insert labeler mention: %w", err)
		}
		return nil
	})
}

// PostTickers lists the tickers indexed for a post, sorted. An unknown post
// yields no tickers.
func (s *Store) PostTickers(ctx context.Context, externalID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, postTickersSQL, externalID)
	if err != nil {
		return nil, fmt.Errorf("list post tickers: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("scan post ticker: %w", err)
		}
		out = append(out, ticker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post tickers: %w", err)
	}
	return out, nil
}

// ListTickerRows returns mention rows for ticker within [from, to], oldest first.
func (s *Store) ListTickerRows(ctx context.Context, ticker string, from, to time.Time) ([]store.TickerRow, error) {
	rows, err := s.pool.Query(ctx, listTickerRowsSQL, store.NormalizeTicker(ticker), from, to)
	if err != nil {
		return nil, fmt.Errorf("query ticker rows: %w", err)
	}
	defer rows.Close()

	var out []store.TickerRow
	for rows.Next() {
		var (
			row        store.TickerRow
			sentiment  *string
			score      *float64
			confidence *float64
			reasoning  *string
		)
		if err := rows.Scan(&row.ExternalID, &row.Title, &row.Date, &sentiment, &score, &confidence, &reasoning); err != nil {
			return nil, fmt.Errorf("scan ticker row: %w", err)
		}
		if sentiment != nil {
			row.Analyzed = true
			row.Sentiment = store.Sentiment(*sentiment)
			row.Score = deref(score)
			row.Confidence = deref(confidence)
			row.Reasoning = deref(reasoning)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticker rows: %w", err)
	}
	return out, nil
}

// LatestPostsForTicker returns the newest posts mentioning ticker.
func (s *Store) LatestPostsForTicker(
	ctx context.Context,
	ticker string,
	from, to time.Time,
	limit int,
) ([]store.PostSummary, error) {
	if limit <= 0 {
		limit = defaultLatestLimit
	}
	rows, err := s.pool.Query(ctx, latestPostsSQL, store.NormalizeTicker(ticker), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest posts: %w", err)
	}
	defer rows.Close()

	out := []store.PostSummary{}
	for rows.Next() {
		var (
			summary     store.PostSummary
			publishedAt *time.Time
			mentionedOn time.Time
		)
		if err := rows.Scan(&summary.ExternalID, &summary.Title, &summary.Category, &publishedAt, &mentionedOn); err != nil {
			return nil, fmt.Errorf("scan latest post: %w", err)
		}
		if publishedAt != nil {
			summary.PublishedAt = *publishedAt
		}
		summary.PublishedOn = mentionedOn.Format(time.DateOnly)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest posts: %w", err)
	}
	return out, nil
}

// CountSentimentsByClass tallies analyzed mentions of ticker within [from, to].
func (s *Store) CountSentimentsByClass(
	ctx context.Context,
	ticker string,
	from, to time.Time,
) (store.SentimentCounts, error) {
	var counts store.SentimentCounts
	rows, err := s.pool.Query(ctx, countSentimentsSQL, store.NormalizeTicker(ticker), from, to)
	if err != nil {
		return counts, fmt.Errorf("query sentiment counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return counts, fmt.Errorf("scan sentiment count: %w", err)
		}
		switch store.Sentiment(label) {
		case store.SentimentPositive:
			counts.Positive += n
		case store.SentimentNegative:
			counts.Negative += n
		case store.SentimentNeutral:
			counts.Neutral += n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("iterate sentiment counts: %w", err)
	}
	return counts, nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
