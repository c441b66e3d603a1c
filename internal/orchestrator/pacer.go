package orchestrator

import (
	"context"
	"time"

	"go.uber.org/ratelimit"

	"github.com/randomizedcoder/go-iptv-probe/internal/backoff"
)

// Pacer controls the rate at which probes are launched so a long list
// does not hit every origin at once. Each launch may also be delayed by a
// deterministic per-candidate jitter.
type Pacer struct {
	rate      int
	limiter   ratelimit.Limiter
	maxJitter time.Duration
	jitter    *backoff.JitterSource
}

// NewPacer creates a pacer allowing rate launches per second. A rate of
// zero or less means unlimited.
func NewPacer(rate int, maxJitter time.Duration, jitter *backoff.JitterSource) *Pacer {
	limiter := ratelimit.NewUnlimited()
	if rate > 0 {
		limiter = ratelimit.New(rate, ratelimit.WithoutSlack)
	}
	if jitter == nil {
		jitter = backoff.NewJitterSourceFromTime()
	}
	return &Pacer{
		rate:      rate,
		limiter:   limiter,
		maxJitter: maxJitter,
		jitter:    jitter,
	}
}

// Wait blocks until candidate index may launch.
// Returns nil on success, or the context error if cancelled.
func (p *Pacer) Wait(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.limiter.Take()

	if d := p.jitter.Jitter(index, p.maxJitter); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}

// EstimatedDuration returns the expected time to launch n probes.
func (p *Pacer) EstimatedDuration(n int) time.Duration {
	var base time.Duration
	if p.rate > 0 && n > 1 {
		base = time.Duration(n-1) * time.Second / time.Duration(p.rate)
	}
	return base + p.maxJitter/2
}

// Rate returns the configured launches per second (0 = unlimited).
func (p *Pacer) Rate() int {
	return p.rate
}
