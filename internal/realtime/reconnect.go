package realtime

import (
	"math"
	"math/rand"
	"time"
)

// stableResetAfter is how long a connection must stay up before the attempt
// counter rewinds, so a flaky-but-recovering link does not burn through the
// attempt budget.
const stableResetAfter = 60 * time.Second

// backoff implements the unified reconnect policy: exponential delay with
// jitter, capped, with a bounded number of attempts.
type backoff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int

	attempt     int
	connectedAt time.Time
}

func newBackoff(base, max time.Duration, maxAttempts int) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &backoff{base: base, max: max, maxAttempts: maxAttempts}
}

func (b *backoff) exhausted() bool {
	return b.attempt >= b.maxAttempts
}

func (b *backoff) markConnected() {
	b.connectedAt = time.Now()
}

func (b *backoff) next() time.Duration {
	if !b.connectedAt.IsZero() && time.Since(b.connectedAt) > stableResetAfter {
		b.attempt = 0
		b.connectedAt = time.Time{}
	}
	jitter := time.Duration(rand.Float64() * float64(b.base) * 0.5)
	delay := time.Duration(math.Min(
		float64(b.base)*math.Pow(2, float64(b.attempt))+float64(jitter),
		float64(b.max),
	))
	b.attempt++
	return delay
}
