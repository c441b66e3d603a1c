// Package ranker filters probe results and orders the survivors.
package ranker

import (
	"sort"

	"github.com/randomizedcoder/go-iptv-probe/internal/manifest"
	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

// Config holds the filter rules. Each rule can be switched off.
type Config struct {
	FilterInvalidDelay bool

	FilterSpeed bool
	MinSpeed    float64 // MB/s

	// FilterResolution bounds numeric "WxH" resolutions by their nominal
	// line count (720 for 1280x720, 2160 for 3840x2160). Audio-only and
	// undeclared resolutions always pass.
	FilterResolution bool
	MinResolution    int
	MaxResolution    int
}

// DefaultConfig returns the default filter rules.
func DefaultConfig() Config {
	return Config{
		FilterInvalidDelay: true,
		FilterSpeed:        true,
		MinSpeed:           1,
		FilterResolution:   true,
		MinResolution:      720,
		MaxResolution:      2160,
	}
}

// Reason names the rule that rejected a result.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonInvalidDelay Reason = "invalid_delay"
	ReasonSpeed        Reason = "speed"
	ReasonResolution   Reason = "resolution"
)

// Check applies the rules in order and returns the first that rejects r.
func (cfg Config) Check(r model.ProbeResult) Reason {
	if cfg.FilterInvalidDelay && r.Delay == model.InvalidDelay {
		return ReasonInvalidDelay
	}
	if cfg.FilterSpeed && r.Speed < cfg.MinSpeed {
		return ReasonSpeed
	}
	if cfg.FilterResolution {
		if w, h, ok := manifest.ParseResolution(r.Resolution); ok {
			if lines := NominalLines(w, h); lines < cfg.MinResolution || lines > cfg.MaxResolution {
				return ReasonResolution
			}
		}
	}
	return ReasonNone
}

// NominalLines returns the "p" class of a frame: its height, or the height
// a 16:9 frame of the same width would have when that is larger. A 4096
// wide DCI frame counts as 2304 lines and so sits above 2160p.
func NominalLines(width, height int) int {
	lines := height
	if fromWidth := (width*9 + 15) / 16; fromWidth > lines {
		lines = fromWidth
	}
	return lines
}

// RankAndFilter drops results that fail any rule and sorts the rest by
// speed (descending) then delay (ascending). Full ties keep input order.
// The input slice is not modified.
func RankAndFilter(results []model.ProbeResult, cfg Config) []model.ProbeResult {
	out := make([]model.ProbeResult, 0, len(results))
	for _, r := range results {
		if cfg.Check(r) == ReasonNone {
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Speed != out[j].Speed {
			return out[i].Speed > out[j].Speed
		}
		return out[i].Delay < out[j].Delay
	})
	return out
}

// Rejections counts the results each rule rejected.
func Rejections(results []model.ProbeResult, cfg Config) map[Reason]int {
	counts := make(map[Reason]int)
	for _, r := range results {
		if reason := cfg.Check(r); reason != ReasonNone {
			counts[reason]++
		}
	}
	return counts
}

// Ranked projects ranked results onto their candidate identities.
func Ranked(results []model.ProbeResult) []model.RankedCandidate {
	out := make([]model.RankedCandidate, len(results))
	for i, r := range results {
		out[i] = model.RankedCandidate{Name: r.Name, URL: r.URL}
	}
	return out
}
