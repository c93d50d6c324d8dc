package notifications

import (
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// breaker admits one trial call after cooldown; its outcome decides whether
// the circuit closes or reopens.
type breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    circuitState
	failures int
	openedAt time.Time
	trial    bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = circuitHalfOpen
	}

	if b.trial {
		return false
	}
	b.trial = true
	return true
}

// release gives back an admitted call without counting it either way.
func (b *breaker) release() {
	b.mu.Lock()
	b.trial = false
	b.mu.Unlock()
}

func (b *breaker) record(ok bool, now time.Time) (from, to circuitState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	b.trial = false

	switch {
	case ok:
		b.failures = 0
		b.state = circuitClosed
	case b.state == circuitHalfOpen:
		b.state = circuitOpen
		b.openedAt = now
	default:
		b.failures++
		if b.failures >= b.threshold {
			b.state = circuitOpen
			b.openedAt = now
		}
	}
	return from, b.state
}

func (b *breaker) current() circuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
