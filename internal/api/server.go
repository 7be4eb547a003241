package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/chart"
	"github.com/JakeFAU/blogpulse/internal/config"
	"github.com/JakeFAU/blogpulse/internal/crawler"
	"github.com/JakeFAU/blogpulse/internal/metrics"
	"github.com/JakeFAU/blogpulse/internal/progress"
	"github.com/JakeFAU/blogpulse/internal/querycache"
	"github.com/JakeFAU/blogpulse/internal/store"
)

const defaultRequestTimeout = 60 * time.Second

// CrawlService is the orchestrator surface used by the handlers.
type CrawlService interface {
	Run(ctx context.Context, scope crawler.Scope) (crawler.CrawlRun, error)
	Start(ctx context.Context, scope crawler.Scope) (crawler.RunHandle, error)
	Get(id string) (crawler.CrawlRun, error)
	List() []crawler.CrawlRun
	Active() (crawler.CrawlRun, bool)
	Validate(scope crawler.Scope) error
}

// ChartService serves cached ticker queries.
type ChartService interface {
	ChartData(ctx context.Context, ticker string, period chart.Period) (chart.Data, error)
	Counts(ctx context.Context, ticker string, period chart.Period) (store.SentimentCounts, error)
	RecentPosts(ctx context.Context, ticker string, limit int) ([]store.PostSummary, error)
	InvalidateTicker(ctx context.Context, ticker string) error
}

// CacheAdmin exposes cache administration.
type CacheAdmin interface {
	Clear(ctx context.Context) error
	Stats(ctx context.Context) querycache.Stats
}

// EventLog returns the retained progress events of a crawl run.
type EventLog interface {
	Events(runID string) ([]progress.Event, bool)
}

// Deps groups the collaborators behind the routes.
type Deps struct {
	Crawls     CrawlService
	Charts     ChartService
	Sentiments store.SentimentWriter
	Cache      CacheAdmin
	// Events is optional; without it run events answer 404.
	Events EventLog
	// Ready reports downstream readiness; nil means always ready.
	Ready func(context.Context) error
}

// Server wires HTTP handlers to the orchestrator, chart service and store.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if deps.Crawls == nil || deps.Charts == nil || deps.Sentiments == nil || deps.Cache == nil {
		return nil, errors.New("api: crawls, charts, sentiments and cache are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/", s.triggerCrawl)
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{run_id}", s.getRun)
		})
		r.Route("/tickers/{ticker}", func(r chi.Router) {
			r.Get("/sentiments", s.tickerSentiments)
			r.Get("/counts", s.tickerCounts)
			r.Get("/posts", s.tickerPosts)
		})
		r.Put("/sentiments", s.saveSentiment)
		r.Route("/cache", func(r chi.Router) {
			r.Delete("/", s.clearCache)
			r.Delete("/tickers/{ticker}", s.clearTickerCache)
			r.Get("/stats", s.cacheStats)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
