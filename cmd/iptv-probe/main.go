// Package main provides the iptv-probe CLI entry point.
//
// iptv-probe reads a channel list, measures every stream's throughput and
// first-byte latency, and writes the streams worth keeping, fastest first,
// as TXT and M3U playlists.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/randomizedcoder/go-iptv-probe/internal/config"
	"github.com/randomizedcoder/go-iptv-probe/internal/logging"
	"github.com/randomizedcoder/go-iptv-probe/internal/preflight"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/iptv-probe
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("iptv-probe %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n", err)
		return 1
	}

	// The TUI owns the terminal, so records only reach its warning panel.
	var (
		logger *slog.Logger
		recent *logging.RecentHandler
	)
	if cfg.TUIEnabled {
		recent = logging.NewRecentHandler(nil, slog.LevelWarn)
		logger = slog.New(recent)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if !cfg.SkipPreflight {
		opts := preflight.Options{
			MaxConcurrent: cfg.MaxConcurrent,
			SampleCount:   cfg.SampleCount,
		}
		if cfg.WriteTXT || cfg.WriteM3U {
			opts.OutputDir = cfg.OutputDir
		}
		result := preflight.RunAll(opts)
		preflight.PrintResults(os.Stderr, result)
		if !result.Passed {
			fmt.Fprintln(os.Stderr, "preflight checks failed (use -skip-preflight to override)")
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		"version", version,
		"source", cfg.Source,
		"max_concurrent", cfg.MaxConcurrent,
		"probe_rate", cfg.ProbeRate,
		"interval", cfg.Interval.String(),
		"metrics_addr", cfg.MetricsAddr,
	)

	a := newApp(cfg, logger, recent, os.Stdout)
	if err := a.Run(ctx, stop); err != nil {
		logger.Error("run_failed", "error", err)
		if cfg.TUIEnabled {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}
