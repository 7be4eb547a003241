// Package server assembles the blogpulse service from configuration and owns
// its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/api"
	"github.com/JakeFAU/blogpulse/internal/chart"
	"github.com/JakeFAU/blogpulse/internal/clock/system"
	"github.com/JakeFAU/blogpulse/internal/config"
	"github.com/JakeFAU/blogpulse/internal/crawler"
	"github.com/JakeFAU/blogpulse/internal/extract"
	collyfetcher "github.com/JakeFAU/blogpulse/internal/fetcher/colly"
	"github.com/JakeFAU/blogpulse/internal/hash/sha256"
	"github.com/JakeFAU/blogpulse/internal/id/uuid"
	"github.com/JakeFAU/blogpulse/internal/mention"
	"github.com/JakeFAU/blogpulse/internal/metrics"
	"github.com/JakeFAU/blogpulse/internal/policy/ratelimit"
	"github.com/JakeFAU/blogpulse/internal/progress"
	"github.com/JakeFAU/blogpulse/internal/progress/sinks"
	"github.com/JakeFAU/blogpulse/internal/querycache"
	memorystore "github.com/JakeFAU/blogpulse/internal/storage/memory"
	pgstore "github.com/JakeFAU/blogpulse/internal/storage/postgres"
	"github.com/JakeFAU/blogpulse/internal/store"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	repo      store.Repository
	pg        *pgstore.Store
	redis     *querycache.RedisBackend
	cache     *querycache.Cache
	charts    *chart.Service
	hub       *progress.Hub
	runLog    *sinks.RunLog
	crawls    *crawler.Orchestrator
	apiServer *api.Server
	closeOnce sync.Once
}

// Build creates the application's dependencies. It connects to Postgres when
// a DSN is configured and otherwise keeps everything in memory.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("blog_id", cfg.Source.BlogID),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Int("tickers", len(cfg.Tickers)),
	)

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}
	app.setupCache(ctx)

	app.charts, err = chart.NewService(chart.ServiceConfig{
		Store:     app.repo,
		Cache:     app.cache,
		Clock:     app.clock,
		Location:  loc,
		ChartTTL:  cfg.HistoricalTTL(),
		RecentTTL: cfg.RecentTTL(),
		Logger:    logger,
	})
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("chart service init failed: %w", err)
	}

	app.setupProgress()
	app.crawls, err = app.setupCrawler(loc)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	deps := api.Deps{
		Crawls:     app.crawls,
		Charts:     app.charts,
		Sentiments: app.repo,
		Cache:      app.cache,
		Ready:      app.ready,
	}
	if app.runLog != nil {
		deps.Events = app.runLog
	}
	app.apiServer, err = api.NewServer(deps, cfg, logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("api init failed: %w", err)
	}
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, using in-memory store")
		a.repo = memorystore.New()
		return nil
	}
	pg, err := pgstore.New(ctx, postgresConfig(a.cfg))
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return fmt.Errorf("postgres schema init failed: %w", err)
	}
	a.pg = pg
	a.repo = pg
	a.logger.Info("postgres store initialized")
	return nil
}

func postgresConfig(cfg config.Config) pgstore.Config {
	return pgstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns), //nolint:gosec // bounded by config
		MinConns:        int32(cfg.DB.MinConns), //nolint:gosec // bounded by config
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	}
}

// Migrate creates the Postgres schema without building the rest of the app.
func Migrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.DB.DSN == "" {
		return errors.New("db.dsn is required to migrate")
	}
	pg, err := pgstore.New(ctx, postgresConfig(cfg))
	if err != nil {
		return fmt.Errorf("postgres connect failed: %w", err)
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema init failed: %w", err)
	}
	if logger != nil {
		logger.Info("postgres schema ready")
	}
	return nil
}

func (a *App) setupCache(ctx context.Context) {
	var backend querycache.Backend
	switch a.cfg.Cache.Backend {
	case "redis":
		a.redis = querycache.NewRedisBackend(querycache.RedisOptions{
			Addr:        a.cfg.Cache.RedisAddr,
			Password:    a.cfg.Cache.RedisPassword,
			DB:          a.cfg.Cache.RedisDB,
			Namespace:   a.cfg.Cache.RedisNamespace,
			DialTimeout: 5 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx); err != nil {
			// Queries pass through to the store until Redis comes back.
			a.logger.Warn("redis cache unreachable at startup", zap.String("addr", a.cfg.Cache.RedisAddr), zap.Error(err))
		} else {
			a.logger.Info("using redis cache backend", zap.String("addr", a.cfg.Cache.RedisAddr))
		}
		backend = a.redis
	default:
		a.logger.Info("using in-memory cache backend")
		backend = querycache.NewMemoryBackend(time.Duration(a.cfg.Cache.CleanupIntervalSeconds) * time.Second)
	}
	a.cache = querycache.New(querycache.Config{
		Backend: backend,
		Clock:   a.clock,
		Logger:  a.logger,
	})
}

func (a *App) setupProgress() {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("crawl progress events disabled")
		return
	}
	a.runLog = sinks.NewRunLog(a.cfg.Crawler.HistoryLimit, a.cfg.Progress.RunLogEvents)
	sinkList := []progress.Sink{a.runLog}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.BatchWait(),
		SinkTimeout:    a.cfg.SinkTimeout(),
		Logger:         a.logger,
	}, sinkList...)
	a.logger.Info("crawl progress events enabled", zap.Int("sinks", len(sinkList)))
}

func (a *App) setupCrawler(loc *time.Location) (*crawler.Orchestrator, error) {
	bounds := crawler.DateBounds{
		EarliestYear: a.cfg.Source.EarliestYear,
		FutureSlack:  crawler.DefaultFutureSlack,
		Clock:        a.clock,
	}
	minDelay, maxDelay := a.cfg.DelayRange()
	baseBackoff, maxBackoff := a.cfg.Backoff()
	pacer := ratelimit.New(ratelimit.Config{MinDelay: minDelay, MaxDelay: maxDelay})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Source.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxBodyBytes:  a.cfg.Crawler.MaxPageBytes,
	},
		collyfetcher.WithPacer(pacer),
		collyfetcher.WithRetryPolicy(crawler.NewExponentialRetryPolicy(a.cfg.HTTP.MaxRetries+1, baseBackoff, maxBackoff)),
		collyfetcher.WithLogger(a.logger.Named("fetcher")),
	)
	a.logger.Info("using colly fetcher",
		zap.Duration("min_delay", minDelay),
		zap.Duration("max_delay", maxDelay),
		zap.Int("max_retries", a.cfg.HTTP.MaxRetries),
	)

	extractor := extract.New(extract.Config{
		Location:        loc,
		Bounds:          bounds,
		MaxBodyBytes:    a.cfg.Crawler.MaxPageBytes,
		MaxContentRunes: a.cfg.Crawler.MaxContentRunes,
		Clock:           a.clock,
	})
	watch := a.cfg.WatchList()
	if len(watch) == 0 {
		a.logger.Warn("no tickers configured, posts will be stored without mentions")
	}
	upserter, err := crawler.NewUpserter(crawler.UpserterConfig{
		Store:       a.repo,
		Hasher:      sha256.New(),
		Detector:    mention.NewDetector(watch),
		Invalidator: a.charts,
		Bounds:      bounds,
		Location:    loc,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("upserter init failed: %w", err)
	}
	ocfg := crawler.OrchestratorConfig{
		Source: crawler.Source{
			BlogID:          a.cfg.Source.BlogID,
			ListURLTemplate: a.cfg.Source.ListURLTemplate,
			PostURLTemplate: a.cfg.Source.PostURLTemplate,
			Location:        loc,
		},
		EarliestYear:       a.cfg.Source.EarliestYear,
		MaxPages:           a.cfg.Crawler.MaxPages,
		YearMaxPages:       a.cfg.Crawler.YearMaxPages,
		YearStopAfterEmpty: a.cfg.Crawler.YearStopAfterEmptyPage,
		FetchConcurrency:   a.cfg.Crawler.FetchConcurrency,
		HistoryLimit:       a.cfg.Crawler.HistoryLimit,
	}
	if a.hub != nil {
		ocfg.Progress = a.hub
	}
	orch, err := crawler.NewOrchestrator(ocfg, fetcher, extractor, upserter, a.clock, uuid.NewUUIDGenerator(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	return orch, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	if err := a.pg.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Crawls returns the crawl orchestrator.
func (a *App) Crawls() *crawler.Orchestrator {
	return a.crawls
}

// Crawl validates scope and runs it to completion.
func (a *App) Crawl(ctx context.Context, scope crawler.Scope) (crawler.CrawlRun, error) {
	if err := a.crawls.Validate(scope); err != nil {
		return crawler.CrawlRun{}, fmt.Errorf("validate scope: %w", err)
	}
	run, err := a.crawls.Run(ctx, scope)
	if err != nil {
		return run, fmt.Errorf("crawl %s: %w", scope, err)
	}
	return run, nil
}

// Store returns the Mention/Sentiment store.
func (a *App) Store() store.Repository {
	return a.repo
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP and blocks until the context is canceled or a signal
// arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if active, ok := a.crawls.Active(); ok {
		a.logger.Warn("crawl run still in flight at shutdown", zap.String("run_id", active.ID))
	}
	a.Close()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close drains pending progress events before releasing store and cache
// connections. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
}

func (a *App) closeInfrastructure() {
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.repo != nil {
		a.repo.Close()
	}
}
