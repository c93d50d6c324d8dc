package worker

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff doubles base per failed attempt up to capDelay and adds
// up to 250ms of jitter.
//
//	attempt=0 => base
//	attempt=1 => 2*base
//	attempt=2 => 4*base
func ExponentialBackoff(attempt int, base, capDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay || delay <= 0 {
		delay = capDelay
	}

	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
