// Package ratelimit paces requests per host: a token bucket enforces the
// minimum gap and a random jitter stretches each gap toward the maximum.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/blogpulse/internal/metrics"
)

// Config holds pacing configuration.
type Config struct {
	// MinDelay is the minimum gap between requests to one host.
	MinDelay time.Duration
	// MaxDelay bounds the randomized gap; values below MinDelay disable jitter.
	MaxDelay time.Duration
}

// Limiter manages per-host pacing.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*hostLimiter
	cfg      Config
	jitter   func(time.Duration) time.Duration
	sleep    func(context.Context, time.Duration) error
}

type hostLimiter struct {
	bucket *rate.Limiter
	used   bool
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters: make(map[string]*hostLimiter),
		cfg:      cfg,
		jitter:   randomJitter,
		sleep:    sleepWithContext,
	}
}

// Wait blocks until the next request to rawURL's host may proceed. The first
// request to a host is never delayed.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = &hostLimiter{bucket: l.newBucket()}
		l.limiters[domain] = limiter
	}
	first := !limiter.used
	limiter.used = true
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if !first {
		if spread := l.cfg.MaxDelay - l.cfg.MinDelay; spread > 0 {
			if err := l.sleep(ctx, l.jitter(spread)); err != nil {
				return fmt.Errorf("rate limit jitter: %w", err)
			}
		}
	}
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, duration)
	}
	return nil
}

func (l *Limiter) newBucket() *rate.Limiter {
	if l.cfg.MinDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(l.cfg.MinDelay), 1)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
