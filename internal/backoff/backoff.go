// Package backoff provides retry delays and launch jitter for probes.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config holds the configuration for exponential backoff.
type Config struct {
	Initial    time.Duration // first retry delay (default: 250ms)
	Max        time.Duration // cap on any delay (default: 5s)
	Multiplier float64       // growth per attempt (default: 1.7)
	JitterPct  float64       // jitter as a fraction of delay (default: 0.4 = ±20%)
}

// DefaultConfig returns the default retry backoff.
func DefaultConfig() Config {
	return Config{
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 1.7,
		JitterPct:  0.4,
	}
}

// Backoff calculates exponential delays with jitter for one candidate.
// Not safe for concurrent use; each retrying probe owns its own.
type Backoff struct {
	config   Config
	attempts int
	rng      *rand.Rand
}

// New creates a Backoff for the candidate at index. The same index and
// seed always produce the same delay sequence.
func New(index int, seed int64, cfg Config) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(int64(index) ^ seed)),
	}
}

// Next returns the next delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.calculate()
	b.attempts++
	return delay
}

// calculate returns the current delay without incrementing attempts.
func (b *Backoff) calculate() time.Duration {
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))
	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// JitterPct=0.4 spreads the delay over ±20%.
	if b.config.JitterPct > 0 {
		spread := delay * b.config.JitterPct
		delay += spread*b.rng.Float64() - spread/2
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
