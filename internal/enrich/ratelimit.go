package enrich

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leadharvest/leadharvest/internal/telemetry"
)

// DomainLimiter hands out request tokens per hostname so that probing one
// slow site never starves or hammers another. Business websites are third
// parties, not the directory, so they get their own budget separate from the
// directory request gate.
type DomainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// LimiterConfig holds per-domain rate settings.
type LimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// NewDomainLimiter builds a DomainLimiter. A non-positive rate means no limit.
func NewDomainLimiter(cfg LimiterConfig) *DomainLimiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
	}
}

// Wait blocks until the target's hostname has a token available or the
// context is done.
func (l *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("domain rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		telemetry.ObserveGateDelay(d)
	}
	return nil
}
