package chart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/crawler"
	"github.com/JakeFAU/blogpulse/internal/querycache"
	"github.com/JakeFAU/blogpulse/internal/store"
)

// Default TTLs per query shape.
const (
	DefaultChartTTL  = time.Hour
	DefaultRecentTTL = 5 * time.Minute

	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
	recentWindowDays   = 365
)

var _ crawler.TickerInvalidator = (*Service)(nil)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store     store.TickerReader
	Cache     *querycache.Cache
	Clock     crawler.Clock
	Location  *time.Location
	ChartTTL  time.Duration
	RecentTTL time.Duration
	Logger    *zap.Logger
}

// Service answers chart and recent-post queries through the query cache.
type Service struct {
	store     store.TickerReader
	cache     *querycache.Cache
	clock     crawler.Clock
	loc       *time.Location
	chartTTL  time.Duration
	recentTTL time.Duration
	logger    *zap.Logger
}

// NewService validates cfg and applies defaults.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("chart: store is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("chart: cache is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("chart: clock is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ChartTTL <= 0 {
		cfg.ChartTTL = DefaultChartTTL
	}
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = DefaultRecentTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		store:     cfg.Store,
		cache:     cfg.Cache,
		clock:     cfg.Clock,
		loc:       cfg.Location,
		chartTTL:  cfg.ChartTTL,
		recentTTL: cfg.RecentTTL,
		logger:    cfg.Logger.Named("chart"),
	}, nil
}

// Aggregate builds chart data straight from the store.
func (s *Service) Aggregate(ctx context.Context, ticker string, period Period) (Data, error) {
	ticker = store.NormalizeTicker(ticker)
	from, to := period.Window(s.clock.Now(), s.loc)
	rows, err := s.store.ListTickerRows(ctx, ticker, from, to)
	if err != nil {
		return Data{}, fmt.Errorf("list %s rows: %w", ticker, err)
	}
	buckets, summary := Aggregate(rows)
	return Data{
		Ticker:  ticker,
		Period:  period,
		From:    from.Format(time.DateOnly),
		To:      to.Format(time.DateOnly),
		Dates:   sortedDates(buckets),
		ByDate:  buckets,
		Summary: summary,
	}, nil
}

// ChartData is Aggregate behind the long-TTL cache shape. The key carries the
// window end so a new day starts a new entry.
func (s *Service) ChartData(ctx context.Context, ticker string, period Period) (Data, error) {
	_, to := period.Window(s.clock.Now(), s.loc)
	key := querycache.TickerKey(ticker, "chart", string(period), to.Format(time.DateOnly))
	return querycache.Fetch(ctx, s.cache, key, s.chartTTL, func(ctx context.Context) (Data, error) {
		return s.Aggregate(ctx, ticker, period)
	})
}

// Counts tallies analyzed mentions per class behind the long-TTL shape.
func (s *Service) Counts(ctx context.Context, ticker string, period Period) (store.SentimentCounts, error) {
	from, to := period.Window(s.clock.Now(), s.loc)
	key := querycache.TickerKey(ticker, "counts", string(period), to.Format(time.DateOnly))
	return querycache.Fetch(ctx, s.cache, key, s.chartTTL, func(ctx context.Context) (store.SentimentCounts, error) {
		counts, err := s.store.CountSentimentsByClass(ctx, store.NormalizeTicker(ticker), from, to)
		if err != nil {
			return counts, fmt.Errorf("count %s sentiments: %w", ticker, err)
		}
		return counts, nil
	})
}

// RecentPosts lists the newest posts mentioning ticker within the last year,
// behind the short-TTL shape.
func (s *Service) RecentPosts(ctx context.Context, ticker string, limit int) ([]store.PostSummary, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	to := store.CalendarDate(s.clock.Now(), s.loc)
	from := to.AddDate(0, 0, -recentWindowDays)
	key := querycache.TickerKey(ticker, "posts", strconv.Itoa(limit), to.Format(time.DateOnly))
	return querycache.Fetch(ctx, s.cache, key, s.recentTTL, func(ctx context.Context) ([]store.PostSummary, error) {
		posts, err := s.store.LatestPostsForTicker(ctx, store.NormalizeTicker(ticker), from, to, limit)
		if err != nil {
			return nil, fmt.Errorf("latest %s posts: %w", ticker, err)
		}
		return posts, nil
	})
}

// InvalidateTicker drops every cached shape for ticker.
func (s *Service) InvalidateTicker(ctx context.Context, ticker string) error {
	n, err := s.cache.InvalidatePrefix(ctx, querycache.TickerPrefix(ticker))
	if err != nil {
		return fmt.Errorf("invalidate %s: %w", ticker, err)
	}
	s.logger.Debug("ticker cache invalidated", zap.String("ticker", store.NormalizeTicker(ticker)), zap.Int("entries", n))
	return nil
}
