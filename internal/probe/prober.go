// Package probe measures one candidate stream.
//
// A probe moves through these stages:
//
//	Pending -> cache hit ----------------------------------> Cached
//	        -> Resolving -> Sampling -> Aggregating -> cache store -> Done
//
// Every failure along the way (unreachable origin, redirect loop, no
// usable sample, deadline) ends in the failed sentinel result. Probe never
// returns an error.
package probe

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/cache"
	"github.com/randomizedcoder/go-iptv-probe/internal/manifest"
	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/stats"
)

// Resolver resolves candidate URLs.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, headers http.Header) (manifest.ResolvedStream, error)
}

// Sampler downloads bounded samples.
type Sampler interface {
	Sample(ctx context.Context, urls []string, headers http.Header) []stats.Sample
	SampleProgressive(ctx context.Context, url string, headers http.Header) stats.Sample
}

// Config holds per-candidate probe settings.
type Config struct {
	// Timeout bounds the measurement of one candidate. Time spent waiting
	// on another probe of the same host is bounded separately by the same
	// duration and does not count against it.
	Timeout time.Duration

	// IPv6Support allows probing IPv6-literal hosts. Without it those
	// candidates get the forced-pass result.
	IPv6Support bool
}

// DefaultConfig returns the probe defaults.
func DefaultConfig() Config {
	return Config{Timeout: 20 * time.Second}
}

// Prober runs single-candidate probes.
type Prober struct {
	resolver Resolver
	sampler  Sampler
	cache    *cache.HostCache
	cfg      Config
	logger   *slog.Logger
}

// New creates a Prober. hostCache may be nil to disable sharing.
func New(resolver Resolver, sampler Sampler, hostCache *cache.HostCache, cfg Config, logger *slog.Logger) *Prober {
	if hostCache == nil {
		hostCache = cache.New(cache.Config{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		resolver: resolver,
		sampler:  sampler,
		cache:    hostCache,
		cfg:      cfg,
		logger:   logger,
	}
}

// Probe measures c and returns exactly one result for it.
func (p *Prober) Probe(ctx context.Context, c model.Candidate) model.ProbeResult {
	if !p.cfg.IPv6Support && IsIPv6Literal(c.URL) {
		p.logger.Debug("probe_forced", "name", c.Name, "url", c.URL, "reason", "ipv6_unsupported")
		return model.ForcedResult(c)
	}

	// Waiting on another probe of the same host has its own bound. A wait
	// that runs out ends in probing this candidate, not in a failure.
	key := p.cache.KeyFor(c.URL)
	waitCtx, cancelWait := p.withTimeout(ctx)
	cached, hit, release := p.cache.Lookup(waitCtx, key)
	cancelWait()
	defer release()
	if hit {
		p.logger.Debug("cache_hit", "name", c.Name, "url", c.URL, "key", key)
		return cached.AttributedTo(c, model.OutcomeCached)
	}
	if ctx.Err() != nil {
		p.logger.Debug("probe_failed", "name", c.Name, "url", c.URL, "error", ctx.Err())
		return model.FailedResult(c)
	}

	probeCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	result := p.measure(probeCtx, c)
	if p.cache.Put(key, result) {
		p.logger.Debug("cache_stored", "key", key, "speed", result.Speed, "delay_ms", result.Delay)
	}
	return result
}

func (p *Prober) measure(ctx context.Context, c model.Candidate) model.ProbeResult {
	start := time.Now()

	rs, err := p.resolver.Resolve(ctx, c.URL, nil)
	if err != nil {
		p.logger.Debug("probe_failed", "name", c.Name, "url", c.URL, "stage", "resolve", "error", err)
		return model.FailedResult(c)
	}

	var samples []stats.Sample
	if rs.IsManifest {
		samples = p.sampler.Sample(ctx, rs.SegmentURLs, nil)
	} else {
		samples = []stats.Sample{p.sampler.SampleProgressive(ctx, rs.URL, nil)}
	}

	est := stats.Aggregate(samples, start)
	if !est.Valid {
		p.logger.Debug("probe_failed",
			"name", c.Name,
			"url", c.URL,
			"stage", "sample",
			"samples", est.Samples,
			"manifest", rs.IsManifest,
		)
		return model.FailedResult(c)
	}

	result := model.ProbeResult{
		Name:       c.Name,
		URL:        c.URL,
		Speed:      est.Speed,
		Delay:      est.Delay,
		Resolution: rs.Resolution,
		Size:       est.Size,
		Elapsed:    est.Elapsed,
		Outcome:    model.OutcomeMeasured,
	}
	if result.Resolution == "" {
		result.Resolution = model.ResolutionUnknown
	}

	p.logger.Debug("probe_measured",
		"name", c.Name,
		"url", c.URL,
		"speed_mbps", result.Speed,
		"delay_ms", result.Delay,
		"resolution", result.Resolution,
		"valid_samples", est.ValidSamples,
		"manifest", rs.IsManifest,
		"fallback", rs.Fallback != nil,
	)
	return result
}

func (p *Prober) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

// IsIPv6Literal reports whether rawURL's host is an IPv6 address.
func IsIPv6Literal(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ip := net.ParseIP(u.Hostname())
	return ip != nil && ip.To4() == nil
}
