package backoff

import (
	"math/rand"
	"time"
)

// JitterSource hands out deterministic per-candidate jitter so launches
// spread out the same way for a given seed.
type JitterSource struct {
	seed int64
}

// NewJitterSource creates a jitter source with the given seed.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{seed: seed}
}

// NewJitterSourceFromTime creates a jitter source seeded from the clock.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// Seed returns the source's seed.
func (j *JitterSource) Seed() int64 {
	return j.seed
}

// For returns a generator seeded for the candidate at index.
func (j *JitterSource) For(index int) *rand.Rand {
	return rand.New(rand.NewSource(int64(index) ^ j.seed))
}

// Jitter returns a duration in [0, max) for the candidate at index.
func (j *JitterSource) Jitter(index int, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(j.For(index).Int63n(int64(max)))
}
