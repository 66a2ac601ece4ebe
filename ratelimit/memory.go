package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter is the single node fallback when no redis is configured.
// Each user gets a token bucket of limit tokens refilled over one window, so a
// user can burst up to limit publishes and then sustain limit per window.
type MemoryLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	every    rate.Limit
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		every:    rate.Every(window / time.Duration(limit)),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.limiterOf(key).AllowN(l.now(), 1), nil
}

func (l *MemoryLimiter) limiterOf(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.every, l.limit)
		l.limiters[key] = lim
	}
	return lim
}

// Prune forgets the buckets that refilled completely, they carry no state a new one would not.
func (l *MemoryLimiter) Prune() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.limit) {
			delete(l.limiters, key)
		}
	}
}

// Run prunes once per window until ctx is done. It is meant to run under the supervisor.
func (l *MemoryLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Prune()
		}
	}
}
