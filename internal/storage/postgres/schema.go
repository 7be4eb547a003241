package postgres

import (
	"context"
	"fmt"
)

// schemaStatements create the tables idempotently. date_confidence ranks how
// the publish date was resolved (0 = unresolved); published_on is the calendar
// date in the source timezone and is mirrored into post_mentions.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS posts (
	id              BIGSERIAL PRIMARY KEY,
	external_id     TEXT NOT NULL UNIQUE,
	url             TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL,
	published_at    TIMESTAMPTZ,
	published_on    DATE,
	date_confidence SMALLINT NOT NULL DEFAULT 0,
	date_source     TEXT NOT NULL DEFAULT '',
	crawled_at      TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_published_on ON posts (published_on)`,
	`CREATE TABLE IF NOT EXISTS post_mentions (
	post_id      BIGINT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	ticker       TEXT NOT NULL,
	mentioned_on DATE,
	source       TEXT NOT NULL DEFAULT 'detector',
	PRIMARY KEY (post_id, ticker)
)`,
	`CREATE INDEX IF NOT EXISTS idx_post_mentions_ticker_date ON post_mentions (ticker, mentioned_on)`,
	`CREATE TABLE IF NOT EXISTS mention_sentiments (
	post_id     BIGINT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	ticker      TEXT NOT NULL,
	sentiment   TEXT NOT NULL CHECK (sentiment IN ('positive', 'negative', 'neutral')),
	score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	reasoning   TEXT NOT NULL DEFAULT '',
	analyzed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (post_id, ticker)
)`,
	`CREATE INDEX IF NOT EXISTS idx_mention_sentiments_ticker ON mention_sentiments (ticker)`,
}

// EnsureSchema creates any missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
