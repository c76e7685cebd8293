// Package ratelimit provides the single process-wide gate in front of all
// outbound Steam traffic.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxInterval = 60 * time.Second

// Gate enforces a minimum interval between successive acquisitions.
// Waiters are served FIFO. HTTP 429 responses inflate the interval
// (doubling, capped at 60s); successes decay it by half back toward the
// configured base.
type Gate struct {
	name    string
	base    time.Duration
	limiter *rate.Limiter

	mu       sync.Mutex
	interval time.Duration
}

// New creates a gate with the given base interval between requests.
func New(name string, base time.Duration) *Gate {
	if base <= 0 {
		base = time.Second
	}
	return &Gate{
		name: name,
		base: base,
		// Burst 1: exactly one request per interval, FIFO among waiters.
		limiter:  rate.NewLimiter(rate.Every(base), 1),
		interval: base,
	}
}

// Acquire blocks until the caller may issue a request, or until ctx is
// cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate gate %s: %w", g.name, err)
	}
	return nil
}

// Backoff reacts to an HTTP 429: the next interval doubles, capped.
func (g *Gate) Backoff() {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.interval * 2
	if next > maxInterval {
		next = maxInterval
	}
	g.setInterval(next)
}

// Success decays an inflated interval by half, never below the base.
func (g *Gate) Success() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.interval == g.base {
		return
	}
	next := g.interval / 2
	if next < g.base {
		next = g.base
	}
	g.setInterval(next)
}

// Interval reports the current minimum gap. Useful for logs and tests.
func (g *Gate) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

func (g *Gate) setInterval(d time.Duration) {
	if d == g.interval {
		return
	}
	g.interval = d
	g.limiter.SetLimit(rate.Every(d))
}
