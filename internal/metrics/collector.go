// Package metrics provides Prometheus metrics for iptv-probe.
//
// Metrics are organized into two tiers:
//   - Tier 1 (always enabled): run-level aggregates, safe for any list size
//   - Tier 2 (optional, --prom-candidate-metrics): per-candidate gauges
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

const namespace = "iptv_probe"

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version             string
	Source              string
	MaxConcurrent       int
	PerCandidateMetrics bool
}

// RunRecord carries the end-of-run figures.
type RunRecord struct {
	Duration   time.Duration
	Candidates int
	Survivors  int
	Rejections map[string]int

	CacheHits    int64
	CacheMisses  int64
	CacheWaits   int64
	CacheEntries int
}

// Collector manages all Prometheus metrics for a probe run.
type Collector struct {
	perCandidate bool

	// --- Panel 1: Run Overview ---
	info          *prometheus.GaugeVec
	candidates    prometheus.Gauge
	maxConcurrent prometheus.Gauge
	inFlight      prometheus.Gauge
	progress      prometheus.Gauge
	runDuration   prometheus.Gauge
	runsTotal     prometheus.Counter
	lastRunTime   prometheus.Gauge

	// --- Panel 2: Probe Outcomes ---
	probesTotal  *prometheus.CounterVec
	retriesTotal prometheus.Counter
	bytesTotal   prometheus.Counter

	// --- Panel 3: Quality Distribution ---
	speed         prometheus.Histogram
	firstByte     prometheus.Histogram
	probeDuration prometheus.Histogram

	// --- Panel 4: Host Cache ---
	cacheHits    prometheus.Gauge
	cacheMisses  prometheus.Gauge
	cacheWaits   prometheus.Gauge
	cacheEntries prometheus.Gauge

	// --- Panel 5: Filtering ---
	survivors prometheus.Gauge
	rejected  *prometheus.GaugeVec

	// Tier 2
	candidateSpeed *prometheus.GaugeVec
	candidateDelay *prometheus.GaugeVec

	mu        sync.Mutex
	started   int64
	finished  int64
	retries   int64
	peakLive  int
	live      int
	byOutcome map[model.Outcome]int64
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered on registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		perCandidate: cfg.PerCandidateMetrics,
		byOutcome:    make(map[model.Outcome]int64),

		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the probe run (value always 1)",
		}, []string{"version", "source"}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidates",
			Help:      "Candidates in the current run",
		}),
		maxConcurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_concurrent",
			Help:      "Configured bound on concurrent probes",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Probes currently running",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress",
			Help:      "Fraction of candidates probed (0.0 to 1.0)",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last completed run",
		}),
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed probe runs",
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run completed",
		}),

		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Finished probes by outcome",
		}, []string{"outcome"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Probe retries after a failed attempt",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sampled_total",
			Help:      "Bytes downloaded while sampling",
		}),

		speed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speed_mbps",
			Help:      "Measured throughput of successful probes in MB/s",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		firstByte: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delay_seconds",
			Help:      "Measured delay of successful probes",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of each probe including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_hits",
			Help:      "Host cache hits in the last run",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_misses",
			Help:      "Host cache misses in the last run",
		}),
		cacheWaits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_waits",
			Help:      "Lookups that waited on an in-flight probe of the same host",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Hosts with a shared result at the end of the last run",
		}),

		survivors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "survivors",
			Help:      "Candidates that passed every filter in the last run",
		}),
		rejected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rejected",
			Help:      "Candidates rejected in the last run by filter rule",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		// Panel 1: Run Overview
		c.info,
		c.candidates,
		c.maxConcurrent,
		c.inFlight,
		c.progress,
		c.runDuration,
		c.runsTotal,
		c.lastRunTime,

		// Panel 2: Probe Outcomes
		c.probesTotal,
		c.retriesTotal,
		c.bytesTotal,

		// Panel 3: Quality Distribution
		c.speed,
		c.firstByte,
		c.probeDuration,

		// Panel 4: Host Cache
		c.cacheHits,
		c.cacheMisses,
		c.cacheWaits,
		c.cacheEntries,

		// Panel 5: Filtering
		c.survivors,
		c.rejected,
	)

	if cfg.PerCandidateMetrics {
		c.candidateSpeed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidate_speed_mbps",
			Help:      "Per-candidate speed (requires --prom-candidate-metrics)",
		}, []string{"name", "url"})
		c.candidateDelay = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidate_delay_ms",
			Help:      "Per-candidate delay, -1 when unreachable (requires --prom-candidate-metrics)",
		}, []string{"name", "url"})
		registry.MustRegister(c.candidateSpeed, c.candidateDelay)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Source).Set(1)
	c.maxConcurrent.Set(float64(cfg.MaxConcurrent))

	// Pre-create outcome series so dashboards see zeros.
	for _, o := range []model.Outcome{model.OutcomeMeasured, model.OutcomeCached, model.OutcomeFailed, model.OutcomeForced} {
		c.probesTotal.WithLabelValues(string(o))
	}

	return c
}

// =============================================================================
// Update Methods
// =============================================================================

// RunStarted resets the per-run gauges for a run over n candidates.
func (c *Collector) RunStarted(n int) {
	c.mu.Lock()
	c.started = 0
	c.finished = 0
	c.live = 0
	c.mu.Unlock()

	c.candidates.Set(float64(n))
	c.progress.Set(0)
	c.inFlight.Set(0)
	if c.candidateSpeed != nil {
		c.candidateSpeed.Reset()
		c.candidateDelay.Reset()
	}
}

// ProbeStarted records that a probe began.
func (c *Collector) ProbeStarted() {
	c.mu.Lock()
	c.started++
	c.live++
	if c.live > c.peakLive {
		c.peakLive = c.live
	}
	c.mu.Unlock()
	c.inFlight.Inc()
}

// ProbeRetried records a retry of a failed attempt.
func (c *Collector) ProbeRetried() {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
	c.retriesTotal.Inc()
}

// ProbeFinished records the final result of one candidate.
func (c *Collector) ProbeFinished(r model.ProbeResult, took time.Duration, total int) {
	c.mu.Lock()
	c.finished++
	c.live--
	c.byOutcome[r.Outcome]++
	finished := c.finished
	c.mu.Unlock()

	c.inFlight.Dec()
	c.probesTotal.WithLabelValues(string(r.Outcome)).Inc()
	c.probeDuration.Observe(took.Seconds())
	if total > 0 {
		c.progress.Set(float64(finished) / float64(total))
	}

	// Cached results reuse another probe's bytes.
	if r.Outcome == model.OutcomeMeasured {
		c.bytesTotal.Add(float64(r.Size))
	}
	if r.Valid() && !math.IsInf(r.Speed, 0) {
		c.speed.Observe(r.Speed)
		c.firstByte.Observe(float64(r.Delay) / 1000)
	}

	if c.candidateSpeed != nil {
		speed := r.Speed
		if math.IsInf(speed, 0) {
			speed = -1
		}
		c.candidateSpeed.WithLabelValues(r.Name, r.URL).Set(speed)
		c.candidateDelay.WithLabelValues(r.Name, r.URL).Set(float64(r.Delay))
	}
}

// RecordRun records the end-of-run figures.
func (c *Collector) RecordRun(rec RunRecord) {
	c.runsTotal.Inc()
	c.runDuration.Set(rec.Duration.Seconds())
	c.lastRunTime.Set(float64(time.Now().Unix()))
	c.progress.Set(1)

	c.cacheHits.Set(float64(rec.CacheHits))
	c.cacheMisses.Set(float64(rec.CacheMisses))
	c.cacheWaits.Set(float64(rec.CacheWaits))
	c.cacheEntries.Set(float64(rec.CacheEntries))

	c.survivors.Set(float64(rec.Survivors))
	c.rejected.Reset()
	for reason, n := range rec.Rejections {
		c.rejected.WithLabelValues(reason).Set(float64(n))
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds collector-side counters for the exit summary and TUI.
type Summary struct {
	Started   int64
	Finished  int64
	Retries   int64
	InFlight  int
	PeakLive  int
	ByOutcome map[model.Outcome]int64
}

// GenerateSummary returns a snapshot of the collector's counters.
func (c *Collector) GenerateSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Started:   c.started,
		Finished:  c.finished,
		Retries:   c.retries,
		InFlight:  c.live,
		PeakLive:  c.peakLive,
		ByOutcome: make(map[model.Outcome]int64, len(c.byOutcome)),
	}
	for o, n := range c.byOutcome {
		s.ByOutcome[o] = n
	}
	return s
}

// PerCandidateEnabled returns whether Tier 2 metrics are registered.
func (c *Collector) PerCandidateEnabled() bool {
	return c.perCandidate
}
