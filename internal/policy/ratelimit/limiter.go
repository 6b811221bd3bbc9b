// Package ratelimit implements the token bucket request budget shared by all remote routes.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/snowball-crawler/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter paces outgoing requests with an application-wide bucket and
// optional per-route buckets layered on top.
type Limiter struct {
	mu       sync.Mutex
	global   *rate.Limiter
	routes   map[string]*rate.Limiter
	perRoute map[string]float64
	burst    int
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the application-wide budget. Zero or less disables it.
	DefaultRPS   float64
	DefaultBurst int
	// RouteRPS adds a tighter budget for individual routes.
	RouteRPS map[string]float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	perRoute := make(map[string]float64, len(cfg.RouteRPS))
	for route, rps := range cfg.RouteRPS {
		if rps > 0 {
			perRoute[route] = rps
		}
	}
	return &Limiter{
		global:   rate.NewLimiter(limitFor(cfg.DefaultRPS), burst),
		routes:   make(map[string]*rate.Limiter),
		perRoute: perRoute,
		burst:    burst,
	}
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until the route may issue one request, respecting the context.
func (l *Limiter) Wait(ctx context.Context, route string) error {
	start := time.Now()
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if limiter := l.routeLimiter(route); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", route, err)
		}
	}
	// Tokens that were immediately available are not worth a sample.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(route, duration)
	}
	return nil
}

func (l *Limiter) routeLimiter(route string) *rate.Limiter {
	rps, ok := l.perRoute[route]
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.routes[route]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rps), l.burst)
		l.routes[route] = limiter
	}
	return limiter
}
