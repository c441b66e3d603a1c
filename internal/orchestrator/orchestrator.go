// Package orchestrator runs a probe pass over a candidate list: it fans
// the candidates out over a bounded worker pool, paces launches, retries
// failures and hands the results to the ranker.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/randomizedcoder/go-iptv-probe/internal/backoff"
	"github.com/randomizedcoder/go-iptv-probe/internal/cache"
	"github.com/randomizedcoder/go-iptv-probe/internal/metrics"
	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/ranker"
	"github.com/randomizedcoder/go-iptv-probe/internal/stats"
)

// Prober measures a single candidate.
type Prober interface {
	Probe(ctx context.Context, c model.Candidate) model.ProbeResult
}

// Config holds the orchestration settings.
type Config struct {
	MaxConcurrent int
	ProbeRate     int           // launches per second, 0 = unlimited
	LaunchJitter  time.Duration // max extra delay per launch
	Retries       int           // extra attempts after a failed probe
	Backoff       backoff.Config
	Seed          int64 // jitter seed, 0 = time based
	Filter        ranker.Config
}

// DefaultConfig returns the orchestration defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 8,
		Backoff:       backoff.DefaultConfig(),
		Filter:        ranker.DefaultConfig(),
	}
}

// Callbacks are invoked from worker goroutines and must be safe for
// concurrent use. Any of them may be nil.
type Callbacks struct {
	OnRunStart   func(runID string, total int)
	OnProbeStart func(index int, c model.Candidate)
	OnRetry      func(index int, c model.Candidate, attempt int, delay time.Duration)
	OnProbeDone  func(index int, r model.ProbeResult, done, total int)
}

// Orchestrator coordinates the components of a probe run.
type Orchestrator struct {
	cfg       Config
	prober    Prober
	hostCache *cache.HostCache
	metrics   *metrics.Collector
	callbacks Callbacks
	logger    *slog.Logger

	pacer  *Pacer
	jitter *backoff.JitterSource
}

// New creates an Orchestrator. hostCache and collector may be nil.
func New(cfg Config, prober Prober, hostCache *cache.HostCache, collector *metrics.Collector, callbacks Callbacks, logger *slog.Logger) *Orchestrator {
	if hostCache == nil {
		hostCache = cache.New(cache.Config{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	jitter := backoff.NewJitterSourceFromTime()
	if cfg.Seed != 0 {
		jitter = backoff.NewJitterSource(cfg.Seed)
	}
	return &Orchestrator{
		cfg:       cfg,
		prober:    prober,
		hostCache: hostCache,
		metrics:   collector,
		callbacks: callbacks,
		logger:    logger,
		pacer:     NewPacer(cfg.ProbeRate, cfg.LaunchJitter, jitter),
		jitter:    jitter,
	}
}

// Run probes every candidate and returns the ranked report. Per-candidate
// failures become data in the report; only cancellation of ctx or a pool
// construction failure is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, candidates []model.Candidate) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	total := len(candidates)
	start := time.Now()

	o.hostCache.Reset()
	if o.metrics != nil {
		o.metrics.RunStarted(total)
	}
	if o.callbacks.OnRunStart != nil {
		o.callbacks.OnRunStart(runID, total)
	}

	logger.Info("run_starting",
		"candidates", total,
		"max_concurrent", o.cfg.MaxConcurrent,
		"rate", o.pacer.Rate(),
		"estimated_launch", o.pacer.EstimatedDuration(total).String(),
		"host_cache", o.hostCache.Enabled(),
	)

	results, err := o.probeAll(ctx, candidates, logger)
	if err != nil {
		return nil, err
	}

	survivors := ranker.RankAndFilter(results, o.cfg.Filter)
	report := &Report{
		RunID:      runID,
		Started:    start,
		Duration:   time.Since(start),
		Results:    results,
		Survivors:  survivors,
		Rejections: ranker.Rejections(results, o.cfg.Filter),
		Cache:      o.hostCache.Stats(),
	}
	report.Summary = stats.Summarize(results, len(survivors), report.Duration)
	report.Summary.RunID = runID

	if o.metrics != nil {
		o.metrics.RecordRun(report.RunRecord())
	}

	logger.Info("run_complete",
		"candidates", total,
		"survivors", len(survivors),
		"failed", report.Summary.Failed,
		"cache_hits", report.Cache.Hits,
		"duration", report.Duration.String(),
	)
	if len(survivors) == 0 && total > 0 {
		logger.Warn("no_survivors", "candidates", total)
	}
	return report, nil
}

// probeAll fans candidates out over a bounded pool. Each worker writes only
// its own slot, so results keep input order.
func (o *Orchestrator) probeAll(ctx context.Context, candidates []model.Candidate, logger *slog.Logger) ([]model.ProbeResult, error) {
	size := o.cfg.MaxConcurrent
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create probe pool: %w", err)
	}
	defer pool.Release()

	total := len(candidates)
	results := make([]model.ProbeResult, total)
	var done atomic.Int64
	var wg sync.WaitGroup

	for i, c := range candidates {
		if err := o.pacer.Wait(ctx, i); err != nil {
			logger.Info("launch_cancelled", "launched", i, "candidates", total)
			break
		}

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			r := o.probeWithRetry(ctx, i, c, total)
			results[i] = r
			n := int(done.Add(1))
			if o.callbacks.OnProbeDone != nil {
				o.callbacks.OnProbeDone(i, r, n, total)
			}
			if n%50 == 0 || n == total {
				logger.Info("run_progress", "done", n, "candidates", total)
			}
		})
		if err != nil {
			wg.Done()
			logger.Error("probe_submit_failed", "index", i, "url", c.URL, "error", err)
			results[i] = model.FailedResult(c)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("probe run cancelled: %w", err)
	}
	return results, nil
}

// probeWithRetry probes c, retrying failed attempts with backoff.
func (o *Orchestrator) probeWithRetry(ctx context.Context, index int, c model.Candidate, total int) model.ProbeResult {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.ProbeStarted()
	}
	if o.callbacks.OnProbeStart != nil {
		o.callbacks.OnProbeStart(index, c)
	}

	r := o.prober.Probe(ctx, c)

	if r.Outcome == model.OutcomeFailed && o.cfg.Retries > 0 {
		b := backoff.New(index, o.jitter.Seed(), o.cfg.Backoff)
		for attempt := 1; attempt <= o.cfg.Retries && r.Outcome == model.OutcomeFailed; attempt++ {
			delay := b.Next()
			if o.callbacks.OnRetry != nil {
				o.callbacks.OnRetry(index, c, attempt, delay)
			}
			if o.metrics != nil {
				o.metrics.ProbeRetried()
			}
			o.logger.Debug("probe_retry_scheduled",
				"name", c.Name,
				"url", c.URL,
				"attempt", attempt,
				"delay", delay.String(),
			)

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return r
			case <-t.C:
			}
			r = o.prober.Probe(ctx, c)
		}
	}

	if o.metrics != nil {
		o.metrics.ProbeFinished(r, time.Since(start), total)
	}
	return r
}
