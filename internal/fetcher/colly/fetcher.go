// Package collyfetcher implements crawler.Fetcher using gocolly, with pacing,
// bounded retries and a response size cap.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/crawler"
	"github.com/JakeFAU/blogpulse/internal/metrics"
)

// DefaultUserAgent mimics a desktop browser; the blog serves reduced markup to
// unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	Headers       http.Header
}

// Pacer delays requests so consecutive fetches stay polite.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	pacer         Pacer
	retry         crawler.RetryPolicy
	sleep         func(context.Context, time.Duration) error
	logger        *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithPacer installs a pacing policy consulted before every attempt.
func WithPacer(p Pacer) Option {
	return func(f *Fetcher) { f.pacer = p }
}

// WithRetryPolicy overrides the default exponential policy.
func WithRetryPolicy(p crawler.RetryPolicy) Option {
	return func(f *Fetcher) { f.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		retry:     crawler.NewExponentialRetryPolicy(3, 0, 0),
		sleep:     sleepWithContext,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.baseCollector = colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	f.baseCollector.WithTransport(f.transport)
	return f
}

// Fetch retrieves rawURL, pacing and retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.RawPage, error) {
	for attempt := 1; ; attempt++ {
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx, rawURL); err != nil {
				return crawler.RawPage{}, &crawler.FetchError{URL: rawURL, Attempts: attempt - 1, Err: err}
			}
		}
		page, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			metrics.ObserveFetch(rawURL, "success", len(page.Body))
			return page, nil
		}
		err.Attempts = attempt
		if ctx.Err() != nil || !f.retry.ShouldRetry(err, attempt) {
			metrics.ObserveFetch(rawURL, "failure", 0)
			return crawler.RawPage{}, err
		}
		delay := f.retry.Backoff(attempt - 1)
		metrics.ObserveFetch(rawURL, "retry", 0)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("status", err.StatusCode),
			zap.Duration("backoff", delay),
			zap.Error(err.Err),
		)
		if sleepErr := f.sleep(ctx, delay); sleepErr != nil {
			return crawler.RawPage{}, &crawler.FetchError{URL: rawURL, StatusCode: err.StatusCode, Attempts: attempt, Err: sleepErr}
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (crawler.RawPage, *crawler.FetchError) {
	var (
		result   crawler.RawPage
		status   int
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &status, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL); err != nil {
		if ctx.Err() != nil {
			// The collector goroutine may still be writing its callbacks.
			return crawler.RawPage{}, &crawler.FetchError{URL: rawURL, Err: err}
		}
		if fetchErr == nil {
			fetchErr = err
		}
		return crawler.RawPage{}, &crawler.FetchError{URL: rawURL, StatusCode: status, Err: fetchErr}
	}
	if fetchErr != nil {
		return crawler.RawPage{}, &crawler.FetchError{URL: rawURL, StatusCode: status, Err: fetchErr}
	}
	if len(result.Body) > f.cfg.MaxBodyBytes {
		return crawler.RawPage{}, &crawler.FetchError{URL: rawURL, StatusCode: result.StatusCode, Err: ErrBodyTooLarge}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	start time.Time,
	result *crawler.RawPage,
	status *int,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.MaxBodySize = f.cfg.MaxBodyBytes + 1
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, start, result, status, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.RawPage,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*result = crawler.RawPage{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			FetchedAt:  start.UTC(),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.Headers == nil {
		return
	}
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
