package refresh

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff returns the wait before retry number attempt (0-based):
// base, 2*base, 4*base ... capped at ceiling, plus up to 250ms of jitter.
func ExponentialBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}

	// small jitter (0-250ms) to avoid thundering herd
	return delay + time.Duration(rand.Intn(250))*time.Millisecond
}
