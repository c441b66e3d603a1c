package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// headerList is a custom flag type for repeatable -header flags.
type headerList []string

func (h *headerList) String() string {
	if h == nil {
		return ""
	}
	return strings.Join(*h, ", ")
}

func (h *headerList) Set(value string) error {
	*h = append(*h, value)
	return nil
}

// ErrHelp is returned by Load when -h or -help was given.
var ErrHelp = flag.ErrHelp

// Load builds the configuration from defaults, the YAML file named by
// -config (or IPTVPROBE_CONFIG), the environment and finally args.
func Load(name string, args []string, stderr io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	path := configPath(name, args)
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := LoadEnv(cfg); err != nil {
		return nil, err
	}

	fs := newFlagSet(name, cfg, stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.ConfigFile = path

	// Positional argument: input source
	if rest := fs.Args(); len(rest) >= 1 {
		cfg.Source = rest[0]
	}
	return cfg, nil
}

// ParseFlags loads the configuration from os.Args.
func ParseFlags() (*Config, error) {
	return Load(os.Args[0], os.Args[1:], os.Stderr)
}

// configPath finds -config in args without applying any other flag.
func configPath(name string, args []string) string {
	scratch := DefaultConfig()
	fs := newFlagSet(name, scratch, io.Discard)
	fs.Usage = func() {}
	// Parse errors are reported by the real pass.
	if err := fs.Parse(args); err == nil && scratch.ConfigFile != "" {
		return scratch.ConfigFile
	}
	return os.Getenv(EnvPrefix + "_CONFIG")
}

// newFlagSet binds every flag to cfg, using cfg's current values as the
// defaults shown in usage.
func newFlagSet(name string, cfg *Config, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.Usage = func() {
		fmt.Fprintf(stderr, `iptv-probe - measure, filter and rank IPTV streams

Usage:
  iptv-probe [flags] <SOURCE>

SOURCE is a local file or http(s) URL holding a TVBox "name,url" list or an
M3U playlist.

Input / Output:
`)
		printFlagCategory(fs, stderr, []string{"config", "input", "output-dir", "output-name", "txt", "m3u", "epg"})

		fmt.Fprintf(stderr, "\nHTTP:\n")
		printFlagCategory(fs, stderr, []string{"user-agent", "header", "insecure"})

		fmt.Fprintf(stderr, "\nTimeouts:\n")
		printFlagCategory(fs, stderr, []string{"probe-timeout", "head-timeout", "sample-timeout"})

		fmt.Fprintf(stderr, "\nConcurrency & Retries:\n")
		printFlagCategory(fs, stderr, []string{"concurrency", "rate", "launch-jitter", "retries", "backoff-initial", "backoff-max", "backoff-multiply", "seed", "interval"})

		fmt.Fprintf(stderr, "\nSampling:\n")
		printFlagCategory(fs, stderr, []string{"samples", "sample-bytes", "min-sample-bytes", "progressive-bytes", "max-redirects", "host-cache", "ipv6"})

		fmt.Fprintf(stderr, "\nFiltering:\n")
		printFlagCategory(fs, stderr, []string{"filter-delay", "filter-speed", "min-speed", "filter-resolution", "min-resolution", "max-resolution"})

		fmt.Fprintf(stderr, "\nObservability:\n")
		printFlagCategory(fs, stderr, []string{"metrics", "metrics-textfile", "prom-candidate-metrics", "log-format", "log-level", "v", "tui"})

		fmt.Fprintf(stderr, "\nDiagnostics:\n")
		printFlagCategory(fs, stderr, []string{"skip-preflight"})

		fmt.Fprintf(stderr, `
Environment:
  Every option can also be set as IPTVPROBE_<NAME>, e.g. IPTVPROBE_MAX_CONCURRENT=16.
  Flags override the environment, which overrides the -config file.

Examples:
  # Probe a TVBox list and write output/iptv.txt and output/iptv.m3u
  iptv-probe channels.txt

  # Remote M3U, 16 probes at a time, keep only streams above 2 MB/s
  iptv-probe -concurrency 16 -min-speed 2 https://example.com/live.m3u

  # Re-probe every 30 minutes and serve /metrics and /results
  iptv-probe -interval 30m -metrics 0.0.0.0:17092 channels.txt

`)
	}

	// Input / Output
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML configuration file")
	fs.StringVar(&cfg.Source, "input", cfg.Source, "Candidate list (file or URL); same as the positional argument")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for ranked output files")
	fs.StringVar(&cfg.OutputName, "output-name", cfg.OutputName, "Base name of output files")
	fs.BoolVar(&cfg.WriteTXT, "txt", cfg.WriteTXT, "Write the TVBox text list")
	fs.BoolVar(&cfg.WriteM3U, "m3u", cfg.WriteM3U, "Write the M3U playlist")
	fs.StringVar(&cfg.EPGURL, "epg", cfg.EPGURL, "EPG URL for the M3U x-tvg-url header")

	// HTTP
	// -header appends to headers from the file or environment.
	fs.Var((*headerList)(&cfg.Headers), "header", `Add custom HTTP header "Name: value" (can repeat)`)
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "HTTP User-Agent header")
	fs.BoolVar(&cfg.InsecureTLS, "insecure", cfg.InsecureTLS, "Skip TLS certificate verification")

	// Timeouts
	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Deadline for probing one candidate")
	fs.DurationVar(&cfg.HeadTimeout, "head-timeout", cfg.HeadTimeout, "Deadline for each existence check")
	fs.DurationVar(&cfg.SampleTimeout, "sample-timeout", cfg.SampleTimeout, "Deadline for each manifest or sample download")

	// Concurrency & Retries
	fs.IntVar(&cfg.MaxConcurrent, "concurrency", cfg.MaxConcurrent, "Candidates probed at once")
	fs.IntVar(&cfg.ProbeRate, "rate", cfg.ProbeRate, "Probe launches per second (0 = unlimited)")
	fs.DurationVar(&cfg.LaunchJitter, "launch-jitter", cfg.LaunchJitter, "Random delay added to each launch")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Extra attempts for a failed probe")
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "First retry delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum retry delay")
	fs.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Retry delay growth per attempt")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Jitter seed (0 = time based)")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Repeat the run at this interval (0 = run once)")

	// Sampling
	fs.IntVar(&cfg.SampleCount, "samples", cfg.SampleCount, "Segments sampled per HLS stream")
	fs.Int64Var(&cfg.SampleBytes, "sample-bytes", cfg.SampleBytes, "Byte cap per segment sample")
	fs.Int64Var(&cfg.MinSampleBytes, "min-sample-bytes", cfg.MinSampleBytes, "Smallest body counted as a valid sample")
	fs.Int64Var(&cfg.ProgressiveBytes, "progressive-bytes", cfg.ProgressiveBytes, "Byte cap for non-HLS streams")
	fs.IntVar(&cfg.MaxRedirects, "max-redirects", cfg.MaxRedirects, "Redirect hops followed while resolving")
	fs.BoolVar(&cfg.HostCache, "host-cache", cfg.HostCache, "Share one measurement across candidates on the same host")
	fs.BoolVar(&cfg.IPv6Support, "ipv6", cfg.IPv6Support, "Probe IPv6-literal hosts instead of passing them unmeasured")

	// Filtering
	fs.BoolVar(&cfg.FilterInvalidDelay, "filter-delay", cfg.FilterInvalidDelay, "Drop unreachable candidates")
	fs.BoolVar(&cfg.FilterSpeed, "filter-speed", cfg.FilterSpeed, "Drop candidates below -min-speed")
	fs.Float64Var(&cfg.MinSpeed, "min-speed", cfg.MinSpeed, "Minimum speed in MB/s")
	fs.BoolVar(&cfg.FilterResolution, "filter-resolution", cfg.FilterResolution, "Drop candidates outside the resolution bounds")
	fs.IntVar(&cfg.MinResolution, "min-resolution", cfg.MinResolution, "Lowest accepted line class (720 = 1280x720)")
	fs.IntVar(&cfg.MaxResolution, "max-resolution", cfg.MaxResolution, "Highest accepted line class (2160 = 3840x2160)")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve /metrics and /results on this address (empty = off)")
	fs.StringVar(&cfg.MetricsTextfile, "metrics-textfile", cfg.MetricsTextfile, "Write metrics to this file after each run")
	fs.BoolVar(&cfg.PromCandidateMetrics, "prom-candidate-metrics", cfg.PromCandidateMetrics,
		"Enable per-candidate Prometheus metrics (WARNING: one series per stream)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show the live terminal dashboard")

	// Diagnostics
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	return fs
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
		return ""
	}
	if g, ok := f.Value.(flag.Getter); ok {
		switch g.Get().(type) {
		case int, int64:
			return "int"
		case float64:
			return "float"
		case time.Duration:
			return "duration"
		}
	}
	return "string"
}
