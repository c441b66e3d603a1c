package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/randomizedcoder/go-iptv-probe/internal/transport"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Input
	if cfg.Source == "" {
		add("source", "candidate list file or URL is required")
	} else if strings.Contains(cfg.Source, "://") {
		if err := validateURL(cfg.Source); err != nil {
			add("source", "%v", err)
		}
	}

	// Output
	if (cfg.WriteTXT || cfg.WriteM3U) && (cfg.OutputDir == "" || cfg.OutputName == "") {
		add("output", "output_dir and output_name are required when writing output")
	}
	if cfg.EPGURL != "" {
		if err := validateURL(cfg.EPGURL); err != nil {
			add("epg_url", "%v", err)
		}
	}

	// HTTP
	if _, err := transport.ParseHeaders(cfg.Headers); err != nil {
		add("headers", "%v", err)
	}

	// Timeouts
	if cfg.ProbeTimeout <= 0 {
		add("probe_timeout", "must be positive")
	}
	if cfg.HeadTimeout <= 0 {
		add("head_timeout", "must be positive")
	} else if cfg.ProbeTimeout > 0 && cfg.HeadTimeout > cfg.ProbeTimeout {
		add("head_timeout", "must be <= probe_timeout (%v > %v)", cfg.HeadTimeout, cfg.ProbeTimeout)
	}
	if cfg.SampleTimeout <= 0 {
		add("sample_timeout", "must be positive")
	} else if cfg.ProbeTimeout > 0 && cfg.SampleTimeout > cfg.ProbeTimeout {
		add("sample_timeout", "must be <= probe_timeout (%v > %v)", cfg.SampleTimeout, cfg.ProbeTimeout)
	}

	// Concurrency & Retries
	if cfg.MaxConcurrent < 1 {
		add("max_concurrent", "must be at least 1")
	}
	if cfg.ProbeRate < 0 {
		add("probe_rate", "must not be negative")
	}
	if cfg.LaunchJitter < 0 {
		add("launch_jitter", "must not be negative")
	}
	if cfg.Retries < 0 {
		add("retries", "must not be negative")
	}
	if cfg.Retries > 0 {
		if cfg.BackoffInitial <= 0 {
			add("backoff_initial", "must be positive")
		}
		if cfg.BackoffMax < cfg.BackoffInitial {
			add("backoff_max", "must be >= backoff_initial")
		}
		if cfg.BackoffMultiply < 1.0 {
			add("backoff_multiply", "must be >= 1.0")
		}
	}
	if cfg.Interval < 0 {
		add("interval", "must not be negative")
	}

	// Sampling
	if cfg.SampleCount < 1 {
		add("sample_count", "must be at least 1")
	}
	if cfg.MinSampleBytes < 0 {
		add("min_sample_bytes", "must not be negative")
	}
	if cfg.SampleBytes <= 0 {
		add("sample_bytes", "must be positive")
	} else if cfg.SampleBytes < cfg.MinSampleBytes {
		add("sample_bytes", "must be >= min_sample_bytes (%d < %d)", cfg.SampleBytes, cfg.MinSampleBytes)
	}
	if cfg.ProgressiveBytes <= 0 {
		add("progressive_bytes", "must be positive")
	} else if cfg.ProgressiveBytes < cfg.MinSampleBytes {
		add("progressive_bytes", "must be >= min_sample_bytes (%d < %d)", cfg.ProgressiveBytes, cfg.MinSampleBytes)
	}
	if cfg.MaxRedirects < 0 {
		add("max_redirects", "must not be negative")
	}

	// Filtering
	if cfg.MinSpeed < 0 {
		add("min_speed", "must not be negative")
	}
	if cfg.FilterResolution {
		if cfg.MinResolution < 0 {
			add("min_resolution", "must not be negative")
		}
		if cfg.MinResolution > cfg.MaxResolution {
			add("min_resolution", "must be <= max_resolution (%d > %d)", cfg.MinResolution, cfg.MaxResolution)
		}
	}

	// Observability
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		add("log_level", "must be one of debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateURL checks if the URL is valid and uses http or https.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}
