// Package sampler downloads bounded portions of a stream's media.
package sampler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/stats"
	"github.com/randomizedcoder/go-iptv-probe/internal/transport"
)

// Getter is the transport call the sampler needs.
type Getter interface {
	ProbeGet(ctx context.Context, url string, headers http.Header, maxBytes int64, timeout time.Duration) transport.GetResult
}

// Config holds sampling limits.
type Config struct {
	// Count is the number of segments sampled per stream.
	Count int

	// SampleBytes bounds each segment download.
	SampleBytes int64

	// MinSampleBytes is the smallest body that counts as a valid sample.
	MinSampleBytes int64

	// ProgressiveBytes bounds the single download of a non-segmented stream.
	ProgressiveBytes int64

	Timeout time.Duration
}

// DefaultConfig returns the sampling defaults.
func DefaultConfig() Config {
	return Config{
		Count:            3,
		SampleBytes:      512 * 1024,
		MinSampleBytes:   2 * 1024,
		ProgressiveBytes: 2 * 1024 * 1024,
		Timeout:          5 * time.Second,
	}
}

// Sampler downloads segment samples concurrently.
type Sampler struct {
	getter Getter
	cfg    Config
	logger *slog.Logger
}

// New creates a Sampler.
func New(getter Getter, cfg Config, logger *slog.Logger) *Sampler {
	if cfg.Count <= 0 {
		cfg.Count = DefaultConfig().Count
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{getter: getter, cfg: cfg, logger: logger}
}

// SelectSegments picks the segments to sample. The first segment of a
// live playlist is often about to expire, so it is skipped whenever more
// than one is listed.
func SelectSegments(urls []string, count int) []string {
	if count <= 0 || len(urls) == 0 {
		return nil
	}
	if len(urls) > 1 {
		urls = urls[1:]
	}
	if len(urls) > count {
		urls = urls[:count]
	}
	out := make([]string, len(urls))
	copy(out, urls)
	return out
}

// Sample downloads the selected segments of urls concurrently. The
// returned slice is in selection order, one entry per selected segment.
func (s *Sampler) Sample(ctx context.Context, urls []string, headers http.Header) []stats.Sample {
	selected := SelectSegments(urls, s.cfg.Count)
	samples := make([]stats.Sample, len(selected))

	var wg sync.WaitGroup
	for i, u := range selected {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			samples[i] = s.fetch(ctx, u, headers, s.cfg.SampleBytes)
		}(i, u)
	}
	wg.Wait()

	return samples
}

// SampleProgressive takes a single bounded sample of a non-segmented stream.
func (s *Sampler) SampleProgressive(ctx context.Context, url string, headers http.Header) stats.Sample {
	return s.fetch(ctx, url, headers, s.cfg.ProgressiveBytes)
}

func (s *Sampler) fetch(ctx context.Context, url string, headers http.Header, maxBytes int64) stats.Sample {
	res := s.getter.ProbeGet(ctx, url, headers, maxBytes, s.cfg.Timeout)

	sample := stats.Sample{
		URL:       url,
		Bytes:     res.Bytes,
		FirstByte: res.FirstByte,
		Elapsed:   res.Elapsed,
		Valid:     res.Status == http.StatusOK && res.Err == nil && res.Bytes >= s.cfg.MinSampleBytes,
	}
	if !sample.Valid {
		s.logger.Debug("sample_invalid",
			"url", url,
			"status", res.Status,
			"bytes", res.Bytes,
			"error", res.Err,
		)
	}
	return sample
}
