package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff produces jittered exponential waits for reconnect loops and
// transient-failure retries. Safe for concurrent use.
type Backoff struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     float64
	current    time.Duration
	attempts   int
	mu         sync.Mutex
}

// NewBackoff returns a Backoff growing from min to max by mult each step,
// with +/-20% jitter to keep restarting fleets from thundering together.
func NewBackoff(min, max time.Duration, mult float64) *Backoff {
	return &Backoff{
		minDelay:   min,
		maxDelay:   max,
		multiplier: mult,
		jitter:     0.2,
		current:    min,
	}
}

func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitterFactor := rand.Float64()*2*b.jitter - b.jitter
	wait := b.current + time.Duration(jitterFactor*float64(b.current))
	wait = max(wait, b.minDelay)
	wait = min(wait, b.maxDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)

	return wait
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
