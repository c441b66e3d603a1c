// This file implements the run summary printed at program exit.
package stats

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

// RunSummary aggregates one probe run.
type RunSummary struct {
	RunID    string
	Duration time.Duration

	Total     int
	Measured  int
	Cached    int
	Failed    int
	Forced    int
	Survivors int

	BytesSampled int64

	// Percentiles over measured and cached results with a valid delay.
	// Forced results are excluded since their values are synthetic.
	SpeedP50 float64
	SpeedP95 float64
	DelayP50 float64
	DelayP95 float64
}

// Summarize builds a RunSummary from every probe result of a run.
func Summarize(results []model.ProbeResult, survivors int, duration time.Duration) RunSummary {
	s := RunSummary{
		Duration:  duration,
		Total:     len(results),
		Survivors: survivors,
	}

	speeds := tdigest.NewWithCompression(100)
	delays := tdigest.NewWithCompression(100)
	observed := 0

	for _, r := range results {
		switch r.Outcome {
		case model.OutcomeMeasured:
			s.Measured++
			s.BytesSampled += r.Size
		case model.OutcomeCached:
			s.Cached++
		case model.OutcomeForced:
			s.Forced++
			continue
		default:
			s.Failed++
			continue
		}
		if !r.Valid() || math.IsInf(r.Speed, 0) {
			continue
		}
		speeds.Add(r.Speed, 1)
		delays.Add(float64(r.Delay), 1)
		observed++
	}

	if observed > 0 {
		s.SpeedP50 = speeds.Quantile(0.50)
		s.SpeedP95 = speeds.Quantile(0.95)
		s.DelayP50 = delays.Quantile(0.50)
		s.DelayP95 = delays.Quantile(0.95)
	}
	return s
}

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// MetricsAddr is the metrics endpoint address, if one was served.
	MetricsAddr string

	// Outputs lists the files written by the run.
	Outputs []string
}

const (
	ruleHeavy = "═══════════════════════════════════════════════════════════════════════════════\n"
	ruleLight = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatRunSummary formats a RunSummary for display at program exit.
func FormatRunSummary(s RunSummary, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(ruleHeavy)
	b.WriteString("                          iptv-probe Run Summary\n")
	b.WriteString(ruleHeavy)
	b.WriteString("\n")

	if s.RunID != "" {
		fmt.Fprintf(&b, "Run ID:                 %s\n", s.RunID)
	}
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(s.Duration))
	fmt.Fprintf(&b, "Candidates:             %d\n", s.Total)
	fmt.Fprintf(&b, "Survivors:              %d\n\n", s.Survivors)

	section(&b, "Probe Outcomes")
	fmt.Fprintf(&b, "  %-20s %8d %s\n", "Measured", s.Measured, percentOf(s.Measured, s.Total))
	fmt.Fprintf(&b, "  %-20s %8d %s\n", "Cache hits", s.Cached, percentOf(s.Cached, s.Total))
	fmt.Fprintf(&b, "  %-20s %8d %s\n", "Failed", s.Failed, percentOf(s.Failed, s.Total))
	if s.Forced > 0 {
		fmt.Fprintf(&b, "  %-20s %8d %s\n", "Forced pass", s.Forced, percentOf(s.Forced, s.Total))
	}
	fmt.Fprintf(&b, "\n  Bytes sampled:        %s\n\n", FormatBytes(s.BytesSampled))

	if s.Measured+s.Cached > 0 && (s.SpeedP50 > 0 || s.DelayP50 > 0) {
		section(&b, "Stream Quality")
		fmt.Fprintf(&b, "  %-20s %12s %12s\n", "", "P50", "P95")
		b.WriteString("  " + strings.Repeat("─", 46) + "\n")
		fmt.Fprintf(&b, "  %-20s %12s %12s\n", "Speed", FormatSpeed(s.SpeedP50), FormatSpeed(s.SpeedP95))
		fmt.Fprintf(&b, "  %-20s %12s %12s\n\n", "First byte",
			FormatMs(time.Duration(s.DelayP50*float64(time.Millisecond))),
			FormatMs(time.Duration(s.DelayP95*float64(time.Millisecond))),
		)
	}

	if s.Survivors == 0 && s.Total > 0 {
		b.WriteString("No stream passed filtering; nothing was written.\n\n")
	}
	for _, out := range cfg.Outputs {
		fmt.Fprintf(&b, "Wrote: %s\n", out)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(ruleHeavy)
	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(ruleLight)
	pad := (len(ruleLight)/3 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(ruleLight)
	b.WriteString("\n")
}

func percentOf(n, total int) string {
	if total == 0 {
		return ""
	}
	return fmt.Sprintf("(%d%%)", n*100/total)
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatSpeed formats a speed in MB/s. Forced results show as "forced".
func FormatSpeed(mbps float64) string {
	if math.IsInf(mbps, 1) {
		return "forced"
	}
	return fmt.Sprintf("%.2f MB/s", mbps)
}

// FormatBytes formats a byte count with binary units.
func FormatBytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	return humanize.IBytes(uint64(n))
}
