package config

import (
	"github.com/randomizedcoder/go-iptv-probe/internal/backoff"
	"github.com/randomizedcoder/go-iptv-probe/internal/cache"
	"github.com/randomizedcoder/go-iptv-probe/internal/manifest"
	"github.com/randomizedcoder/go-iptv-probe/internal/orchestrator"
	"github.com/randomizedcoder/go-iptv-probe/internal/probe"
	"github.com/randomizedcoder/go-iptv-probe/internal/ranker"
	"github.com/randomizedcoder/go-iptv-probe/internal/sampler"
	"github.com/randomizedcoder/go-iptv-probe/internal/transport"
)

// The methods below translate the flat configuration into the settings of
// each component. Headers are assumed valid (see Validate).

// Transport returns the HTTP client settings.
func (c *Config) Transport() transport.Config {
	headers, _ := transport.ParseHeaders(c.Headers)
	return transport.Config{
		UserAgent:           c.UserAgent,
		Headers:             headers,
		InsecureTLS:         c.InsecureTLS,
		MaxIdleConnsPerHost: c.MaxConcurrent,
	}
}

// Resolver returns the manifest resolver settings.
func (c *Config) Resolver() manifest.Config {
	rc := manifest.DefaultConfig()
	rc.HeadTimeout = c.HeadTimeout
	rc.FetchTimeout = c.SampleTimeout
	rc.MaxRedirects = c.MaxRedirects
	return rc
}

// Sampler returns the segment sampler settings.
func (c *Config) Sampler() sampler.Config {
	return sampler.Config{
		Count:            c.SampleCount,
		SampleBytes:      c.SampleBytes,
		MinSampleBytes:   c.MinSampleBytes,
		ProgressiveBytes: c.ProgressiveBytes,
		Timeout:          c.SampleTimeout,
	}
}

// Probe returns the per-candidate probe settings.
func (c *Config) Probe() probe.Config {
	return probe.Config{
		Timeout:     c.ProbeTimeout,
		IPv6Support: c.IPv6Support,
	}
}

// Cache returns the host cache settings.
func (c *Config) Cache() cache.Config {
	return cache.Config{
		Enabled:     c.HostCache,
		SpeedFilter: c.FilterSpeed,
		MinSpeed:    c.MinSpeed,
	}
}

// Filter returns the ranking rules.
func (c *Config) Filter() ranker.Config {
	return ranker.Config{
		FilterInvalidDelay: c.FilterInvalidDelay,
		FilterSpeed:        c.FilterSpeed,
		MinSpeed:           c.MinSpeed,
		FilterResolution:   c.FilterResolution,
		MinResolution:      c.MinResolution,
		MaxResolution:      c.MaxResolution,
	}
}

// Orchestrator returns the run settings.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		MaxConcurrent: c.MaxConcurrent,
		ProbeRate:     c.ProbeRate,
		LaunchJitter:  c.LaunchJitter,
		Retries:       c.Retries,
		Backoff: backoff.Config{
			Initial:    c.BackoffInitial,
			Max:        c.BackoffMax,
			Multiplier: c.BackoffMultiply,
			JitterPct:  0.4,
		},
		Seed:   c.Seed,
		Filter: c.Filter(),
	}
}
