package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// upsertPostSQL only touches an existing row when the content hash changed or
// the incoming date outranks the stored one. The stored date is replaced only
// by an equal or higher ranked resolution.
const upsertPostSQL = `
INSERT INTO posts (
	external_id,
	url,
	title,
	content,
	category,
	content_hash,
	published_at,
	published_on,
	date_confidence,
	date_source,
	crawled_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (external_id) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	category = COALESCE(NULLIF(EXCLUDED.category, ''), posts.category),
	content_hash = EXCLUDED.content_hash,
	crawled_at = EXCLUDED.crawled_at,
	published_at = CASE WHEN EXCLUDED.date_confidence > 0 AND EXCLUDED.date_confidence >= posts.date_confidence
		THEN EXCLUDED.published_at ELSE posts.published_at END,
	published_on = CASE WHEN EXCLUDED.date_confidence > 0 AND EXCLUDED.date_confidence >= posts.date_confidence
		THEN EXCLUDED.published_on ELSE posts.published_on END,
	date_source = CASE WHEN EXCLUDED.date_confidence > 0 AND EXCLUDED.date_confidence >= posts.date_confidence
		THEN EXCLUDED.date_source ELSE posts.date_source END,
	date_confidence = GREATEST(posts.date_confidence, EXCLUDED.date_confidence),
	updated_at = now()
WHERE posts.content_hash <> EXCLUDED.content_hash
	OR EXCLUDED.date_confidence > posts.date_confidence
RETURNING id, (xmax = 0) AS inserted, published_on`

const (
	deleteDetectorMentionsSQL = `DELETE FROM post_mentions WHERE post_id = $1 AND source = 'detector'`

	insertDetectorMentionsSQL = `
INSERT INTO post_mentions (post_id, ticker, mentioned_on, source)
SELECT $1, t, $2, 'detector' FROM unnest($3::text[]) AS t
ON CONFLICT (post_id, ticker) DO NOTHING`

	syncMentionDatesSQL = `UPDATE post_mentions SET mentioned_on = $2 WHERE post_id = $1`

	selectPostSQL = `
SELECT id, external_id, url, title, content, category, content_hash,
	published_at, published_on, date_confidence, date_source,
	crawled_at, created_at, updated_at
FROM posts
WHERE external_id = $1`

	countPostsSQL = `SELECT COUNT(*) FROM posts`
)

// UpsertPost inserts or updates a post and rewrites its detector mentions in
// one transaction.
func (s *Store) UpsertPost(ctx context.Context, w store.PostWrite) (store.UpsertResult, error) {
	if w.ExternalID == "" {
		return "", fmt.Errorf("external id is required")
	}
	tickers := normalizeTickers(w.Tickers)
	result := store.UpsertUnchanged
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			postID      int64
			inserted    bool
			publishedOn *time.Time
		)
		err := tx.QueryRow(ctx, upsertPostSQL,
			w.ExternalID,
			w.URL,
			w.Title,
			w.Content,
			w.Category,
			w.ContentHash,
			w.PublishedAt,
			w.PublishedOn,
			int(w.DateConfidence),
			w.DateSource,
			w.CrawledAt,
		).Scan(&postID, &inserted, &publishedOn)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("upsert post %s: %w", w.ExternalID, err)
		}
		result = store.UpsertUpdated
		if inserted {
			result = store.UpsertCreated
		}

		if _, err := tx.Exec(ctx, deleteDetectorMentionsSQL, postID); err != nil {
			return fmt.Errorf("clear mentions: %w", err)
		}
		if len(tickers) > 0 {
			if _, err := tx.Exec(ctx, insertDetectorMentionsSQL, postID, publishedOn, tickers); err != nil {
				return fmt.Errorf("insert mentions: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, syncMentionDatesSQL, postID, publishedOn); err != nil {
			return fmt.Errorf("sync mention dates: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// GetPostByExternalID loads one post.
func (s *Store) GetPostByExternalID(ctx context.Context, externalID string) (store.Post, error) {
	var (
		post       store.Post
		confidence int
	)
	err := s.pool.QueryRow(ctx, selectPostSQL, externalID).Scan(
		&post.ID,
		&post.ExternalID,
		&post.URL,
		&post.Title,
		&post.Content,
		&post.Category,
		&post.ContentHash,
		&post.PublishedAt,
		&post.PublishedOn,
		&confidence,
		&post.DateSource,
		&post.CrawledAt,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Post{}, store.ErrNotFound
	}
	if err != nil {
		return store.Post{}, fmt.Errorf("select post %s: %w", externalID, err)
	}
	post.DateConfidence = store.DateConfidence(confidence)
	return post, nil
}

// CountPosts returns the number of stored posts.
func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, countPostsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func normalizeTickers(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = store.NormalizeTicker(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
