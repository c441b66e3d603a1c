// Package cache shares probe results between candidates served by the
// same origin during one run.
//
// Many playlists list dozens of channels on a single origin. Probing the
// origin once and reusing its measurement for the other channels keeps a
// run short without changing which origins win.
package cache

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

// Config holds cache configuration.
type Config struct {
	// Enabled turns on sharing by host. When false every lookup misses
	// and nothing is stored.
	Enabled bool

	// SpeedFilter and MinSpeed mirror the ranker's speed rule. A result
	// that the rule would reject is never stored.
	SpeedFilter bool
	MinSpeed    float64
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits    int64
	Misses  int64
	Waits   int64 // lookups that waited on another probe of the same key
	Stored  int64
	Entries int
	Ungated int // keys whose measurement was not admitted
}

// flight tracks the probe that currently owns a key.
type flight struct {
	done chan struct{}
}

// HostCache is a per-run result cache keyed by origin.
type HostCache struct {
	cfg Config

	entries *xsync.MapOf[string, model.ProbeResult]
	flights *xsync.MapOf[string, *flight]

	// ungated holds keys whose owner finished without an admitted result.
	// Later lookups of those keys neither wait nor own.
	ungated *xsync.MapOf[string, struct{}]

	hits   atomic.Int64
	misses atomic.Int64
	waits  atomic.Int64
	stored atomic.Int64
}

// New creates a HostCache.
func New(cfg Config) *HostCache {
	return &HostCache{
		cfg:     cfg,
		entries: xsync.NewMapOf[string, model.ProbeResult](),
		flights: xsync.NewMapOf[string, *flight](),
		ungated: xsync.NewMapOf[string, struct{}](),
	}
}

// Enabled reports whether results are shared.
func (c *HostCache) Enabled() bool {
	return c.cfg.Enabled
}

// Key returns the cache key for rawURL: scheme://host[:port] when byHost
// is set, otherwise the URL itself.
func Key(rawURL string, byHost bool) string {
	if !byHost {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// KeyFor returns the key this cache uses for rawURL.
func (c *HostCache) KeyFor(rawURL string) string {
	return Key(rawURL, c.cfg.Enabled)
}

// Lookup returns the stored result for key.
//
// On a miss the caller owns the key until it calls release, and must call
// release exactly once after its Put (or instead of one). Concurrent
// lookups of the same key block until the owner releases. If the owner's
// result was not admitted, every waiter and every later lookup of the key
// misses without ownership and probes on its own. If the owner stored
// nothing at all (its probe was abandoned), one waiter becomes the next
// owner.
//
// On a hit release is a no-op. If ctx ends while waiting, Lookup returns a
// miss without ownership.
func (c *HostCache) Lookup(ctx context.Context, key string) (result model.ProbeResult, hit bool, release func()) {
	noop := func() {}
	if !c.cfg.Enabled {
		return model.ProbeResult{}, false, noop
	}

	for {
		if r, ok := c.entries.Load(key); ok {
			c.hits.Add(1)
			return r, true, noop
		}
		if _, ok := c.ungated.Load(key); ok {
			c.misses.Add(1)
			return model.ProbeResult{}, false, noop
		}

		f := &flight{done: make(chan struct{})}
		current, loaded := c.flights.LoadOrStore(key, f)
		if !loaded {
			// The previous owner may have stored between our Load and
			// taking ownership.
			if r, ok := c.entries.Load(key); ok {
				c.finish(key, f)
				c.hits.Add(1)
				return r, true, noop
			}
			c.misses.Add(1)
			var once sync.Once
			return model.ProbeResult{}, false, func() {
				once.Do(func() { c.finish(key, f) })
			}
		}

		c.waits.Add(1)
		select {
		case <-current.done:
		case <-ctx.Done():
			return model.ProbeResult{}, false, noop
		}
	}
}

func (c *HostCache) finish(key string, f *flight) {
	c.flights.Delete(key)
	close(f.done)
}

// Admits reports whether r may be stored.
func (c *HostCache) Admits(r model.ProbeResult) bool {
	if !r.Valid() {
		return false
	}
	if c.cfg.SpeedFilter && r.Speed < c.cfg.MinSpeed {
		return false
	}
	return true
}

// Put stores r under key if caching is enabled and r is admitted.
// It reports whether r was stored. A result that is not admitted ungates
// the key for the rest of the run.
func (c *HostCache) Put(key string, r model.ProbeResult) bool {
	if !c.cfg.Enabled {
		return false
	}
	if !c.Admits(r) {
		c.ungated.Store(key, struct{}{})
		return false
	}
	c.entries.Store(key, r)
	c.stored.Add(1)
	return true
}

// Reset discards all entries and counters. It is called at the start of
// every run and must not race with Lookup.
func (c *HostCache) Reset() {
	c.entries.Clear()
	c.ungated.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
	c.waits.Store(0)
	c.stored.Store(0)
}

// Stats returns the current counters.
func (c *HostCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Waits:   c.waits.Load(),
		Stored:  c.stored.Load(),
		Entries: c.entries.Size(),
		Ungated: c.ungated.Size(),
	}
}
