package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-iptv-probe/internal/cache"
	"github.com/randomizedcoder/go-iptv-probe/internal/config"
	"github.com/randomizedcoder/go-iptv-probe/internal/logging"
	"github.com/randomizedcoder/go-iptv-probe/internal/manifest"
	"github.com/randomizedcoder/go-iptv-probe/internal/metrics"
	"github.com/randomizedcoder/go-iptv-probe/internal/orchestrator"
	"github.com/randomizedcoder/go-iptv-probe/internal/playlist"
	"github.com/randomizedcoder/go-iptv-probe/internal/probe"
	"github.com/randomizedcoder/go-iptv-probe/internal/sampler"
	"github.com/randomizedcoder/go-iptv-probe/internal/stats"
	"github.com/randomizedcoder/go-iptv-probe/internal/transport"
	"github.com/randomizedcoder/go-iptv-probe/internal/tui"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// app wires the components of one iptv-probe process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	client    *transport.Client
	registry  *prometheus.Registry
	collector *metrics.Collector
	server    *metrics.Server
	orch      *orchestrator.Orchestrator
	program   *tea.Program

	mu      sync.Mutex
	last    *orchestrator.Report
	outputs []string
}

// newApp builds the probe pipeline from cfg. recent is the TUI's log
// buffer and is only used when the TUI is enabled.
func newApp(cfg *config.Config, logger *slog.Logger, recent *logging.RecentHandler, out io.Writer) *app {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		client:   transport.New(cfg.Transport()),
		registry: prometheus.NewRegistry(),
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:             version,
		Source:              cfg.Source,
		MaxConcurrent:       cfg.MaxConcurrent,
		PerCandidateMetrics: cfg.PromCandidateMetrics,
	}, a.registry)

	if cfg.MetricsAddr != "" {
		a.server = metrics.NewServer(cfg.MetricsAddr, a.registry, logger)
	}

	var callbacks orchestrator.Callbacks
	if cfg.TUIEnabled {
		tcfg := tui.Config{
			Source:        cfg.Source,
			MetricsAddr:   cfg.MetricsAddr,
			MaxConcurrent: cfg.MaxConcurrent,
			Filter:        cfg.Filter(),
			SummarySource: a.collector,
		}
		if recent != nil {
			tcfg.LogSource = recent
		}
		a.program = tea.NewProgram(tui.New(tcfg), tea.WithAltScreen())
		callbacks = tui.Callbacks(a.program)
	}

	// The orchestrator resets the same cache at the start of every run.
	hostCache := cache.New(cfg.Cache())
	prober := probe.New(
		manifest.NewResolver(a.client, cfg.Resolver(), logger),
		sampler.New(a.client, cfg.Sampler(), logger),
		hostCache,
		cfg.Probe(),
		logger,
	)
	a.orch = orchestrator.New(cfg.Orchestrator(), prober, hostCache, a.collector, callbacks, logger)
	return a
}

// Run probes the source once, or every Interval until ctx is done. stop
// cancels ctx and is called when the dashboard is closed.
func (a *app) Run(ctx context.Context, stop context.CancelFunc) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	var tuiDone chan struct{}
	if a.program != nil {
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := a.program.Run(); err != nil {
				a.logger.Error("tui_error", "error", err)
			}
			stop()
		}()
	}

	err := a.loop(ctx)

	if a.program != nil {
		a.program.Quit()
		<-tuiDone
		// The dashboard hid the per-run summaries.
		a.printSummary()
	}
	return err
}

func (a *app) loop(ctx context.Context) error {
	for {
		if err := a.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				a.logger.Info("run_interrupted")
				return nil
			}
			if a.cfg.Interval == 0 {
				return err
			}
			a.logger.Warn("run_failed", "error", err)
		}

		if a.cfg.Interval == 0 {
			return nil
		}
		a.logger.Info("next_run_scheduled", "in", a.cfg.Interval.String())

		timer := time.NewTimer(a.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runOnce loads the source, probes it and writes every output.
func (a *app) runOnce(ctx context.Context) error {
	candidates, err := playlist.Load(ctx, a.cfg.Source, a.client, nil)
	if err != nil {
		return err
	}
	a.logger.Info("source_loaded", "source", a.cfg.Source, "candidates", len(candidates))

	report, err := a.orch.Run(ctx, candidates)
	if a.program != nil {
		tui.SendRunDone(a.program, report, err)
	}
	if err != nil {
		return err
	}
	if err := a.writeOutputs(report); err != nil {
		return err
	}

	if a.server != nil {
		if err := a.server.Publish(report.Document()); err != nil {
			a.logger.Warn("results_publish_failed", "error", err)
		}
	}
	if a.cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(a.cfg.MetricsTextfile, a.registry); err != nil {
			a.logger.Warn("metrics_textfile_failed", "path", a.cfg.MetricsTextfile, "error", err)
		}
	}

	if a.program == nil {
		a.printSummary()
	}
	return nil
}

// writeOutputs writes the ranked playlists. With no survivors the
// previous files are left in place.
func (a *app) writeOutputs(report *orchestrator.Report) error {
	var outputs []string
	defer func() {
		a.mu.Lock()
		a.last = report
		a.outputs = outputs
		a.mu.Unlock()
	}()

	ranked := report.Ranked()
	if len(ranked) == 0 {
		a.logger.Warn("no_survivors_nothing_written", "candidates", len(report.Results))
		return nil
	}

	if a.cfg.WriteTXT {
		path := a.cfg.OutputPath(".txt")
		if err := playlist.WriteTXT(path, ranked); err != nil {
			return err
		}
		outputs = append(outputs, path)
	}
	if a.cfg.WriteM3U {
		path := a.cfg.OutputPath(".m3u")
		if err := playlist.WriteM3U(path, ranked, a.cfg.EPGURL); err != nil {
			return err
		}
		outputs = append(outputs, path)
	}
	if len(outputs) > 0 {
		a.logger.Info("outputs_written", "files", outputs, "channels", len(ranked))
	}
	return nil
}

// lastReport returns the most recent completed run, or nil.
func (a *app) lastReport() *orchestrator.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *app) printSummary() {
	a.mu.Lock()
	last, outputs := a.last, a.outputs
	a.mu.Unlock()
	if last == nil {
		return
	}

	scfg := stats.SummaryConfig{Outputs: outputs}
	if a.server != nil {
		scfg.MetricsAddr = a.server.Addr()
	}
	fmt.Fprint(a.out, stats.FormatRunSummary(last.Summary, scfg))
}
