package orchestrator

import (
	"math"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/cache"
	"github.com/randomizedcoder/go-iptv-probe/internal/metrics"
	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/ranker"
	"github.com/randomizedcoder/go-iptv-probe/internal/stats"
)

// Report is the outcome of one probe run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	// Results holds one result per candidate, in input order.
	Results []model.ProbeResult

	// Survivors are the results that passed filtering, in rank order.
	Survivors []model.ProbeResult

	Rejections map[ranker.Reason]int
	Cache      cache.Stats
	Summary    stats.RunSummary
}

// Ranked returns the survivors as ranked candidates.
func (r *Report) Ranked() []model.RankedCandidate {
	return ranker.Ranked(r.Survivors)
}

// RunRecord returns the figures the metrics collector keeps per run.
func (r *Report) RunRecord() metrics.RunRecord {
	rejections := make(map[string]int, len(r.Rejections))
	for reason, n := range r.Rejections {
		rejections[string(reason)] = n
	}
	return metrics.RunRecord{
		Duration:     r.Duration,
		Candidates:   len(r.Results),
		Survivors:    len(r.Survivors),
		Rejections:   rejections,
		CacheHits:    r.Cache.Hits,
		CacheMisses:  r.Cache.Misses,
		CacheWaits:   r.Cache.Waits,
		CacheEntries: r.Cache.Entries,
	}
}

// Document is the JSON form of a report served on /results.
type Document struct {
	RunID      string         `json:"run_id"`
	Completed  time.Time      `json:"completed"`
	DurationMs int64          `json:"duration_ms"`
	Candidates int            `json:"candidates"`
	Rejections map[string]int `json:"rejections"`
	Ranked     []Entry        `json:"ranked"`
}

// Entry is one ranked stream. Speed is omitted for forced results, whose
// speed is unbounded.
type Entry struct {
	Rank       int      `json:"rank"`
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Speed      *float64 `json:"speed_mbps,omitempty"`
	Delay      int      `json:"delay_ms"`
	Resolution string   `json:"resolution"`
	Outcome    string   `json:"outcome"`
}

// Document converts the report to its JSON form.
func (r *Report) Document() Document {
	doc := Document{
		RunID:      r.RunID,
		Completed:  r.Started.Add(r.Duration),
		DurationMs: r.Duration.Milliseconds(),
		Candidates: len(r.Results),
		Rejections: make(map[string]int, len(r.Rejections)),
		Ranked:     make([]Entry, len(r.Survivors)),
	}
	for reason, n := range r.Rejections {
		doc.Rejections[string(reason)] = n
	}
	for i, s := range r.Survivors {
		e := Entry{
			Rank:       i + 1,
			Name:       s.Name,
			URL:        s.URL,
			Delay:      s.Delay,
			Resolution: s.Resolution,
			Outcome:    string(s.Outcome),
		}
		if !math.IsInf(s.Speed, 0) && !math.IsNaN(s.Speed) {
			speed := s.Speed
			e.Speed = &speed
		}
		doc.Ranked[i] = e
	}
	return doc
}
