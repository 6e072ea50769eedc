// Package ratelimit implements the per-client fixed-window request limiter
// guarding the assistant endpoint.
package ratelimit

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/noorlatif/portfolio-assistant/pkg/cache"
)

const (
	DefaultWindow        = 60 * time.Second
	DefaultMaxRequests   = 10
	DefaultPruneInterval = 5 * time.Minute
)

// Decision describes the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// FixedWindow counts requests per key in windows that start at a key's first
// request. It admits bursts at window boundaries.
type FixedWindow struct {
	Max    int
	Window time.Duration
	Clock  func() time.Time

	records *cache.TTLMap[string, int]
}

func NewFixedWindow(max int, window time.Duration) *FixedWindow {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &FixedWindow{
		Max:     max,
		Window:  window,
		records: cache.NewTTLMap[string, int](),
	}
}

// Check records a request for key at the limiter's current time.
func (l *FixedWindow) Check(key string) Decision {
	return l.CheckAt(key, l.now())
}

// CheckAt records a request for key at now. A record whose reset time has
// passed is replaced by a fresh window with count 1.
func (l *FixedWindow) CheckAt(key string, now time.Time) Decision {
	var d Decision
	l.records.Update(key, func(count int, resetAt time.Time, ok bool) (int, time.Time) {
		if !ok || now.After(resetAt) {
			resetAt = now.Add(l.Window)
			d = Decision{Allowed: true, Limit: l.Max, Remaining: l.Max - 1, ResetAt: resetAt}
			return 1, resetAt
		}
		if count >= l.Max {
			d = Decision{Limit: l.Max, ResetAt: resetAt, RetryAfter: resetAt.Sub(now)}
			return count, resetAt
		}
		count++
		d = Decision{Allowed: true, Limit: l.Max, Remaining: l.Max - count, ResetAt: resetAt}
		return count, resetAt
	})
	return d
}

// Prune drops records whose window has ended.
func (l *FixedWindow) Prune(now time.Time) int {
	return l.records.Prune(now)
}

// Len reports how many client records are held.
func (l *FixedWindow) Len() int {
	return l.records.Len()
}

// Run prunes expired records every interval until ctx is done.
func (l *FixedWindow) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Prune(l.now()); n > 0 {
				log.Debug("rate limiter pruned records", "removed", n, "remaining", l.Len())
			}
		}
	}
}

func (l *FixedWindow) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}
