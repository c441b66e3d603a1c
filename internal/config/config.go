// Package config provides configuration management for iptv-probe.
//
// Values are layered: DefaultConfig, then an optional YAML file, then
// IPTVPROBE_* environment variables, then command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "IPTVPROBE"

// Config holds all configuration options.
type Config struct {
	// Input / Output
	Source     string `yaml:"source" envconfig:"IPTVPROBE_SOURCE"`
	OutputDir  string `yaml:"output_dir" envconfig:"IPTVPROBE_OUTPUT_DIR"`
	OutputName string `yaml:"output_name" envconfig:"IPTVPROBE_OUTPUT_NAME"`
	WriteTXT   bool   `yaml:"write_txt" envconfig:"IPTVPROBE_WRITE_TXT"`
	WriteM3U   bool   `yaml:"write_m3u" envconfig:"IPTVPROBE_WRITE_M3U"`
	EPGURL     string `yaml:"epg_url" envconfig:"IPTVPROBE_EPG_URL"`

	// HTTP
	UserAgent   string   `yaml:"user_agent" envconfig:"IPTVPROBE_USER_AGENT"`
	Headers     []string `yaml:"headers" envconfig:"IPTVPROBE_HEADERS"`
	InsecureTLS bool     `yaml:"insecure_tls" envconfig:"IPTVPROBE_INSECURE_TLS"`

	// Timeouts
	ProbeTimeout  time.Duration `yaml:"probe_timeout" envconfig:"IPTVPROBE_PROBE_TIMEOUT"`
	HeadTimeout   time.Duration `yaml:"head_timeout" envconfig:"IPTVPROBE_HEAD_TIMEOUT"`
	SampleTimeout time.Duration `yaml:"sample_timeout" envconfig:"IPTVPROBE_SAMPLE_TIMEOUT"`

	// Concurrency & Pacing
	MaxConcurrent   int           `yaml:"max_concurrent" envconfig:"IPTVPROBE_MAX_CONCURRENT"`
	ProbeRate       int           `yaml:"probe_rate" envconfig:"IPTVPROBE_PROBE_RATE"` // 0 = unlimited
	LaunchJitter    time.Duration `yaml:"launch_jitter" envconfig:"IPTVPROBE_LAUNCH_JITTER"`
	Retries         int           `yaml:"retries" envconfig:"IPTVPROBE_RETRIES"`
	BackoffInitial  time.Duration `yaml:"backoff_initial" envconfig:"IPTVPROBE_BACKOFF_INITIAL"`
	BackoffMax      time.Duration `yaml:"backoff_max" envconfig:"IPTVPROBE_BACKOFF_MAX"`
	BackoffMultiply float64       `yaml:"backoff_multiply" envconfig:"IPTVPROBE_BACKOFF_MULTIPLY"`
	Seed            int64         `yaml:"seed" envconfig:"IPTVPROBE_SEED"` // 0 = time based
	Interval        time.Duration `yaml:"interval" envconfig:"IPTVPROBE_INTERVAL"` // 0 = run once

	// Sampling
	SampleCount      int   `yaml:"sample_count" envconfig:"IPTVPROBE_SAMPLE_COUNT"`
	SampleBytes      int64 `yaml:"sample_bytes" envconfig:"IPTVPROBE_SAMPLE_BYTES"`
	MinSampleBytes   int64 `yaml:"min_sample_bytes" envconfig:"IPTVPROBE_MIN_SAMPLE_BYTES"`
	ProgressiveBytes int64 `yaml:"progressive_bytes" envconfig:"IPTVPROBE_PROGRESSIVE_BYTES"`
	MaxRedirects     int   `yaml:"max_redirects" envconfig:"IPTVPROBE_MAX_REDIRECTS"`
	HostCache        bool  `yaml:"host_cache" envconfig:"IPTVPROBE_HOST_CACHE"`
	IPv6Support      bool  `yaml:"ipv6_support" envconfig:"IPTVPROBE_IPV6_SUPPORT"`

	// Filtering
	FilterInvalidDelay bool    `yaml:"filter_invalid_delay" envconfig:"IPTVPROBE_FILTER_INVALID_DELAY"`
	FilterSpeed        bool    `yaml:"filter_speed" envconfig:"IPTVPROBE_FILTER_SPEED"`
	MinSpeed           float64 `yaml:"min_speed" envconfig:"IPTVPROBE_MIN_SPEED"` // MB/s
	FilterResolution   bool    `yaml:"filter_resolution" envconfig:"IPTVPROBE_FILTER_RESOLUTION"`
	MinResolution      int     `yaml:"min_resolution" envconfig:"IPTVPROBE_MIN_RESOLUTION"`
	MaxResolution      int     `yaml:"max_resolution" envconfig:"IPTVPROBE_MAX_RESOLUTION"`

	// Observability
	MetricsAddr          string `yaml:"metrics_addr" envconfig:"IPTVPROBE_METRICS_ADDR"` // empty = disabled
	MetricsTextfile      string `yaml:"metrics_textfile" envconfig:"IPTVPROBE_METRICS_TEXTFILE"`
	PromCandidateMetrics bool   `yaml:"prom_candidate_metrics" envconfig:"IPTVPROBE_PROM_CANDIDATE_METRICS"`
	LogFormat            string `yaml:"log_format" envconfig:"IPTVPROBE_LOG_FORMAT"` // json, text
	LogLevel             string `yaml:"log_level" envconfig:"IPTVPROBE_LOG_LEVEL"`
	Verbose              bool   `yaml:"verbose" envconfig:"IPTVPROBE_VERBOSE"`
	TUIEnabled           bool   `yaml:"tui" envconfig:"IPTVPROBE_TUI"`

	// Diagnostics
	SkipPreflight bool `yaml:"skip_preflight" envconfig:"IPTVPROBE_SKIP_PREFLIGHT"`

	// ConfigFile is the YAML file the other values were read from.
	ConfigFile string `yaml:"-" ignored:"true"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Input / Output
		OutputDir:  "output",
		OutputName: "iptv",
		WriteTXT:   true,
		WriteM3U:   true,

		// HTTP
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",

		// Timeouts
		ProbeTimeout:  20 * time.Second,
		HeadTimeout:   3 * time.Second,
		SampleTimeout: 5 * time.Second,

		// Concurrency & Pacing
		MaxConcurrent:   8,
		BackoffInitial:  250 * time.Millisecond,
		BackoffMax:      5 * time.Second,
		BackoffMultiply: 1.7,

		// Sampling
		SampleCount:      3,
		SampleBytes:      512 * 1024,
		MinSampleBytes:   2 * 1024,
		ProgressiveBytes: 2 * 1024 * 1024,
		MaxRedirects:     6,
		HostCache:        true,

		// Filtering
		FilterInvalidDelay: true,
		FilterSpeed:        true,
		MinSpeed:           1,
		FilterResolution:   true,
		MinResolution:      720,
		MaxResolution:      2160,

		// Observability
		LogFormat: "json",
		LogLevel:  "info",
	}
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return nil
}

// LoadEnv overlays IPTVPROBE_* environment variables onto cfg. Unset
// variables leave the current value alone. Tags carry the full prefixed
// name so envconfig never falls back to an unprefixed variable.
func LoadEnv(cfg *Config) error {
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}
	return nil
}

// OutputPath returns the path of an output file with the given extension.
func (c *Config) OutputPath(ext string) string {
	return filepath.Join(c.OutputDir, c.OutputName+ext)
}
