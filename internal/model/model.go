// Package model holds the records shared by the probe pipeline.
package model

import (
	"math"
	"time"
)

const (
	// InvalidDelay marks a result whose latency was never measured.
	InvalidDelay = -1

	// ResolutionUnknown is reported when a stream declares no resolution.
	ResolutionUnknown = "unknown"

	// ResolutionAudioOnly is reported for variants that carry only audio.
	ResolutionAudioOnly = "audio-only"

	// BytesPerMB converts byte counts to the MB used for Speed.
	BytesPerMB = 1024 * 1024
)

// Forced-pass values used when a candidate cannot be measured from this
// host (IPv6 origin without IPv6 support) but must not be discarded.
const (
	ForcedDelay      = 100
	ForcedResolution = "1920x1080"
)

// Outcome records how a ProbeResult was produced.
type Outcome string

const (
	OutcomeMeasured Outcome = "measured"
	OutcomeCached   Outcome = "cached"
	OutcomeFailed   Outcome = "failed"
	OutcomeForced   Outcome = "forced"
)

// Candidate is one named stream URL to probe.
type Candidate struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ProbeResult is the outcome of probing one candidate.
type ProbeResult struct {
	Name string `json:"name"`
	URL  string `json:"url"`

	// Speed in MB/s. +Inf for forced-pass results.
	Speed float64 `json:"speed"`

	// Delay is the mean first-byte latency in milliseconds, or InvalidDelay.
	Delay int `json:"delay"`

	// Resolution is "WxH", ResolutionAudioOnly or ResolutionUnknown.
	Resolution string `json:"resolution"`

	// Size is the number of bytes sampled.
	Size int64 `json:"size"`

	// Elapsed is the time spent transferring the sampled bytes.
	Elapsed time.Duration `json:"elapsed"`

	Outcome Outcome `json:"outcome"`
}

// RankedCandidate is a survivor of filtering, in rank order.
type RankedCandidate struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FailedResult returns the sentinel result for an unreachable candidate.
func FailedResult(c Candidate) ProbeResult {
	return ProbeResult{
		Name:       c.Name,
		URL:        c.URL,
		Speed:      0,
		Delay:      InvalidDelay,
		Resolution: ResolutionUnknown,
		Outcome:    OutcomeFailed,
	}
}

// ForcedResult returns a result that always passes filtering.
func ForcedResult(c Candidate) ProbeResult {
	return ProbeResult{
		Name:       c.Name,
		URL:        c.URL,
		Speed:      math.Inf(1),
		Delay:      ForcedDelay,
		Resolution: ForcedResolution,
		Outcome:    OutcomeForced,
	}
}

// Valid reports whether the result carries a measured latency.
func (r ProbeResult) Valid() bool {
	return r.Delay != InvalidDelay
}

// AttributedTo copies r onto candidate c. Only the measurement fields
// are kept; identity always comes from c.
func (r ProbeResult) AttributedTo(c Candidate, outcome Outcome) ProbeResult {
	r.Name = c.Name
	r.URL = c.URL
	r.Outcome = outcome
	return r
}

// Candidate returns the identity part of the result.
func (r ProbeResult) Candidate() Candidate {
	return Candidate{Name: r.Name, URL: r.URL}
}
