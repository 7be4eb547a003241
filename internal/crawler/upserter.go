package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// UpserterConfig wires the Upserter's dependencies.
type UpserterConfig struct {
	Store       store.PostWriter
	Hasher      Hasher
	Detector    MentionDetector
	Invalidator TickerInvalidator
	Bounds      DateBounds
	Location    *time.Location
	Logger      *zap.Logger
}

// Upserter converts extracted records into idempotent store writes.
type Upserter struct {
	store       store.PostWriter
	hasher      Hasher
	detector    MentionDetector
	invalidator TickerInvalidator
	bounds      DateBounds
	loc         *time.Location
	logger      *zap.Logger
}

// NewUpserter builds an Upserter. Store and Hasher are required.
func NewUpserter(cfg UpserterConfig) (*Upserter, error) {
	if cfg.Store == nil {
		return nil, errors.New("upserter: store is required")
	}
	if cfg.Hasher == nil {
		return nil, errors.New("upserter: hasher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Upserter{
		store:       cfg.Store,
		hasher:      cfg.Hasher,
		detector:    cfg.Detector,
		invalidator: cfg.Invalidator,
		bounds:      cfg.Bounds,
		loc:         loc,
		logger:      logger,
	}, nil
}

// Upsert persists rec keyed by its external ID. Repeating the same record is a
// no-op reported as store.UpsertUnchanged.
func (u *Upserter) Upsert(ctx context.Context, rec PostRecord) (store.UpsertResult, error) {
	if strings.TrimSpace(rec.ExternalID) == "" {
		return "", &StoreWriteError{Err: errors.New("missing external id")}
	}
	write, err := u.buildWrite(rec)
	if err != nil {
		return "", &StoreWriteError{ExternalID: rec.ExternalID, Err: err}
	}
	previous := u.indexedTickers(ctx, rec.ExternalID)
	result, err := u.store.UpsertPost(ctx, write)
	if err != nil {
		return "", &StoreWriteError{ExternalID: rec.ExternalID, Err: err}
	}
	if result != store.UpsertUnchanged {
		u.invalidate(ctx, append(previous, write.Tickers...))
	}
	return result, nil
}

// indexedTickers returns the post's tickers before the write so that a ticker
// the new content no longer mentions is invalidated too.
func (u *Upserter) indexedTickers(ctx context.Context, externalID string) []string {
	lister, ok := u.store.(store.MentionLister)
	if !ok || u.invalidator == nil {
		return nil
	}
	tickers, err := lister.PostTickers(ctx, externalID)
	if err != nil {
		u.logger.Warn("listing indexed tickers failed", zap.String("post_id", externalID), zap.Error(err))
		return nil
	}
	return tickers
}

func (u *Upserter) buildWrite(rec PostRecord) (store.PostWrite, error) {
	digest, err := u.hasher.Hash([]byte(strings.TrimSpace(rec.Title) + "\n" + strings.TrimSpace(rec.Content)))
	if err != nil {
		return store.PostWrite{}, fmt.Errorf("hash content: %w", err)
	}
	write := store.PostWrite{
		ExternalID:     rec.ExternalID,
		URL:            rec.URL,
		Title:          rec.Title,
		Content:        rec.Content,
		Category:       rec.Category,
		ContentHash:    digest,
		DateConfidence: store.DateUnresolved,
		CrawledAt:      rec.CrawledAt.UTC(),
	}
	if rec.DateResolved() {
		if u.bounds.Plausible(rec.PublishedAt) {
			published := rec.PublishedAt.UTC()
			day := store.CalendarDate(rec.PublishedAt, u.loc)
			write.PublishedAt = &published
			write.PublishedOn = &day
			write.DateConfidence = rec.DateConfidence
			write.DateSource = rec.DateSource
		} else {
			u.logger.Warn("discarding implausible publish date",
				zap.String("post_id", rec.ExternalID),
				zap.Time("published_at", rec.PublishedAt),
				zap.String("date_source", rec.DateSource),
				zap.Error(ErrImplausibleDate),
			)
		}
	}
	if u.detector != nil {
		write.Tickers = u.detector.Detect(rec.Title, rec.Content)
	}
	return write, nil
}

func (u *Upserter) invalidate(ctx context.Context, tickers []string) {
	if u.invalidator == nil {
		return
	}
	seen := make(map[string]struct{}, len(tickers))
	for _, ticker := range tickers {
		ticker = store.NormalizeTicker(ticker)
		if _, dup := seen[ticker]; dup || ticker == "" {
			continue
		}
		seen[ticker] = struct{}{}
		if err := u.invalidator.InvalidateTicker(ctx, ticker); err != nil {
			u.logger.Warn("cache invalidation failed", zap.String("ticker", ticker), zap.Error(err))
		}
	}
}
