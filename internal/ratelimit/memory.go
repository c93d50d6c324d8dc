package ratelimit

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryLimiter keeps window counters in a process-local go-cache. Counters
// expire with their window, so the janitor reclaims idle keys.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	store  *cache.Cache
	now    func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		store:  cache.New(window, 2*window),
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	var count int64 = 1

	// Add only succeeds when there is no live counter, which opens a window.
	if err := l.store.Add(key, 1, l.window); err != nil {
		n, err := l.store.IncrementInt(key, 1)
		if err != nil {
			// expired between Add and IncrementInt
			l.store.Set(key, 1, l.window)
			n = 1
		}
		count = int64(n)
	}

	var ttl time.Duration
	if _, exp, ok := l.store.GetWithExpiration(key); ok && !exp.IsZero() {
		ttl = exp.Sub(l.now())
	}

	return decide(l.limit, count, ttl), nil
}
