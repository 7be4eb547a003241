// Package config loads and validates blogpulse configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // source.timezone must resolve on hosts without zoneinfo

	"github.com/spf13/viper"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig        `mapstructure:"server"`
	Auth     AuthConfig          `mapstructure:"auth"`
	Source   SourceConfig        `mapstructure:"source"`
	Crawler  CrawlerConfig       `mapstructure:"crawler"`
	HTTP     HTTPConfig          `mapstructure:"http"`
	DB       DBConfig            `mapstructure:"db"`
	Cache    CacheConfig         `mapstructure:"cache"`
	Tickers  map[string][]string `mapstructure:"tickers"`
	Logging  LoggingConfig       `mapstructure:"logging"`
	Progress ProgressConfig      `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig describes the blog being crawled.
type SourceConfig struct {
	BlogID          string `mapstructure:"blog_id"`
	ListURLTemplate string `mapstructure:"list_url_template"`
	PostURLTemplate string `mapstructure:"post_url_template"`
	UserAgent       string `mapstructure:"user_agent"`
	Timezone        string `mapstructure:"timezone"`
	EarliestYear    int    `mapstructure:"earliest_year"`
}

// CrawlerConfig governs pacing and crawl scope limits.
type CrawlerConfig struct {
	DelayMinMs             int  `mapstructure:"delay_min_ms"`
	DelayMaxMs             int  `mapstructure:"delay_max_ms"`
	MaxPagesDefault        int  `mapstructure:"max_pages_default"`
	MaxPages               int  `mapstructure:"max_pages"`
	YearMaxPages           int  `mapstructure:"year_max_pages"`
	YearStopAfterEmptyPage int  `mapstructure:"year_stop_after_empty_pages"`
	MaxPageBytes           int  `mapstructure:"max_page_bytes"`
	MaxContentRunes        int  `mapstructure:"max_content_runes"`
	FetchConcurrency       int  `mapstructure:"fetch_concurrency"`
	RespectRobots          bool `mapstructure:"respect_robots"`
	HistoryLimit           int  `mapstructure:"history_limit"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// CacheConfig selects the query cache backend and per-shape TTLs.
type CacheConfig struct {
	Backend                string `mapstructure:"backend"`
	RedisAddr              string `mapstructure:"redis_addr"`
	RedisPassword          string `mapstructure:"redis_password"`
	RedisDB                int    `mapstructure:"redis_db"`
	RedisNamespace         string `mapstructure:"redis_namespace"`
	RecentTTLSeconds       int    `mapstructure:"recent_ttl_seconds"`
	HistoricalTTLSeconds   int    `mapstructure:"historical_ttl_seconds"`
	CleanupIntervalSeconds int    `mapstructure:"cleanup_interval_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig controls the crawl-run event stream.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	LogEnabled     bool `mapstructure:"log_enabled"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int  `mapstructure:"sink_timeout_ms"`
	RunLogEvents   int  `mapstructure:"run_log_events"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BLOGPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("source.blog_id", "")
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.list_url_template",
		"https://blog.naver.com/PostTitleListAsync.naver?blogId={blog_id}&currentPage={page}&countPerPage=30")
	v.SetDefault("source.post_url_template",
		"https://blog.naver.com/PostView.naver?blogId={blog_id}&logNo={post_id}")
	v.SetDefault("source.timezone", "Asia/Seoul")
	v.SetDefault("source.earliest_year", 2003)
	v.SetDefault("crawler.delay_min_ms", 1000)
	v.SetDefault("crawler.delay_max_ms", 2000)
	v.SetDefault("crawler.max_pages_default", 3)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.year_max_pages", 50)
	v.SetDefault("crawler.year_stop_after_empty_pages", 5)
	v.SetDefault("crawler.max_page_bytes", 2<<20)
	v.SetDefault("crawler.max_content_runes", 200000)
	v.SetDefault("crawler.fetch_concurrency", 2)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.history_limit", 50)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_namespace", "blogpulse:cache:")
	v.SetDefault("cache.recent_ttl_seconds", 300)
	v.SetDefault("cache.historical_ttl_seconds", 3600)
	v.SetDefault("cache.cleanup_interval_seconds", 600)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.run_log_events", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Source.BlogID) == "" {
		return fmt.Errorf("source.blog_id is required")
	}
	if !strings.Contains(c.Source.PostURLTemplate, "{post_id}") {
		return fmt.Errorf("source.post_url_template must contain {post_id}")
	}
	if !strings.Contains(c.Source.ListURLTemplate, "{page}") {
		return fmt.Errorf("source.list_url_template must contain {page}")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Crawler.DelayMinMs < 0 || c.Crawler.DelayMinMs > c.Crawler.DelayMaxMs {
		return fmt.Errorf("crawler.delay_min_ms must be between 0 and crawler.delay_max_ms")
	}
	if c.Crawler.MaxPagesDefault <= 0 || c.Crawler.MaxPages < c.Crawler.MaxPagesDefault {
		return fmt.Errorf("crawler.max_pages_default must be > 0 and <= crawler.max_pages")
	}
	if c.Crawler.FetchConcurrency <= 0 {
		return fmt.Errorf("crawler.fetch_concurrency must be > 0")
	}
	if c.Crawler.MaxPageBytes <= 0 {
		return fmt.Errorf("crawler.max_page_bytes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.RecentTTLSeconds <= 0 || c.Cache.HistoricalTTLSeconds <= 0 {
		return fmt.Errorf("cache TTLs must be > 0")
	}
	if c.Progress.Enabled && (c.Progress.BufferSize < 0 || c.Progress.RunLogEvents < 0) {
		return fmt.Errorf("progress.buffer_size and progress.run_log_events must be >= 0")
	}
	return nil
}

// Location resolves the source timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Source.Timezone)
	if err != nil {
		return nil, fmt.Errorf("source.timezone %q: %w", c.Source.Timezone, err)
	}
	return loc, nil
}

// WatchList normalizes the configured ticker aliases. Each ticker matches its
// own symbol in addition to any listed aliases.
func (c Config) WatchList() map[string][]string {
	out := make(map[string][]string, len(c.Tickers))
	for ticker, aliases := range c.Tickers {
		t := store.NormalizeTicker(ticker)
		if t == "" {
			continue
		}
		out[t] = append(out[t], t)
		out[t] = append(out[t], aliases...)
	}
	return out
}

// FetchTimeout is the per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single API request; sync crawls run under it.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// DelayRange returns the pacing bounds between requests to one host.
func (c Config) DelayRange() (minDelay, maxDelay time.Duration) {
	return time.Duration(c.Crawler.DelayMinMs) * time.Millisecond,
		time.Duration(c.Crawler.DelayMaxMs) * time.Millisecond
}

// Backoff returns the retry backoff bounds.
func (c Config) Backoff() (base, maxDelay time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// RecentTTL is the short-lived cache shape TTL.
func (c Config) RecentTTL() time.Duration {
	return time.Duration(c.Cache.RecentTTLSeconds) * time.Second
}

// HistoricalTTL is the long-lived cache shape TTL.
func (c Config) HistoricalTTL() time.Duration {
	return time.Duration(c.Cache.HistoricalTTLSeconds) * time.Second
}

// BatchWait is the longest the progress hub holds a partial batch.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}

// SinkTimeout bounds one progress sink delivery.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Progress.SinkTimeoutMs) * time.Millisecond
}
