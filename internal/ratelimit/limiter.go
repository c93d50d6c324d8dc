package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one hit against a fixed window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func decide(limit int, count int64, ttl time.Duration) Decision {
	d := Decision{Limit: limit}

	if count <= int64(limit) {
		d.Allowed = true
		d.Remaining = limit - int(count)
		return d
	}

	if ttl < 0 {
		ttl = 0
	}
	d.RetryAfter = ttl
	return d
}
