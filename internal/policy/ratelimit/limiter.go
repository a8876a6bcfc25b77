// Package ratelimit implements token bucket throttles keyed by upstream, used
// to keep the domain pre-check from flooding a DNS server.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/rum-crawler/internal/metrics"
)

// Limiter manages one token bucket per upstream key.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive RPS disables throttling.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for key, respecting the context.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil || l.defaultRate == rate.Inf {
		return nil
	}
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate tokens are not worth a histogram sample.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveLookupThrottle(duration)
	}
	return nil
}
