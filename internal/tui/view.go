package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/ranker"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
		m.renderOutcomes(),
		m.renderLeaders(),
	}
	if logs := m.renderLogs(); logs != "" {
		sections = append(sections, logs)
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the most recent probes.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderRecentTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	runID := m.runID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	if runID == "" {
		runID = "waiting"
	}

	header := fmt.Sprintf(
		" iptv-probe │ Run %s │ Probes: %d/%d │ Elapsed: %s ",
		runID,
		m.done,
		m.total,
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(m.Progress(), barWidth)

	var status string
	switch {
	case m.finished != nil && m.finished.Err != nil:
		status = statusError.Render("✗ Run aborted: " + m.finished.Err.Error())
	case m.finished != nil:
		status = statusOK.Render(fmt.Sprintf("✓ Run complete: %d of %d streams kept", m.finished.Survivors, m.total))
	case m.total == 0:
		status = statusInfo.Render("Loading source...")
	default:
		status = statusInfo.Render(fmt.Sprintf("Probing... %d/%d done, %d/%d in flight",
			m.done, m.total, m.InFlight(), m.maxConcurrent))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Probe Progress"),
		progressBar,
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Outcome Statistics
// =============================================================================

func (m Model) renderOutcomes() string {
	rows := make([]string, 0, 7)
	for _, o := range []model.Outcome{model.OutcomeMeasured, model.OutcomeCached, model.OutcomeForced, model.OutcomeFailed} {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render(strings.ToUpper(string(o[:1]))+string(o[1:])+":"),
			GetOutcomeStyle(o).Render(formatNumber(int64(m.outcomes[o]))),
		))
	}

	rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render("Failure Rate:"),
		GetFailureRateStyle(m.FailureRate()).Render(formatPercent(m.FailureRate())),
	))

	retries := RenderKeyValue("Retries", formatNumber(int64(m.retries)))
	if m.lastRetry != "" {
		retries += dimStyle.Render("  last: " + truncate(m.lastRetry, m.width-40))
	}
	rows = append(rows, retries)

	if m.summary != nil {
		rows = append(rows, RenderKeyValue("Peak In Flight", fmt.Sprintf("%d", m.summary.PeakLive)))
	}

	if m.finished != nil && len(m.finished.Rejections) > 0 {
		rows = append(rows, RenderKeyValue("Rejected", formatRejections(m.finished.Rejections)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Outcomes")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func formatRejections(r map[ranker.Reason]int) string {
	parts := make([]string, 0, len(r))
	for reason, n := range r {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// =============================================================================
// Leaders
// =============================================================================

func (m Model) leaderRows() int {
	n := (m.height - 24) / 2
	if n < 3 {
		n = 3
	}
	if n > 10 {
		n = 10
	}
	return n
}

func (m Model) renderLeaders() string {
	leaders := m.Leaders(m.leaderRows())
	if len(leaders) == 0 {
		return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left,
			sectionHeaderStyle.Render("Leaders"),
			dimStyle.Render("No stream has passed the filters yet."),
		))
	}

	nameWidth := m.nameWidth()
	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-3s %-*s %-12s %-9s %-10s", "#", nameWidth, "Name", "Speed", "Delay", "Resolution"),
	)

	rows := make([]string, 0, len(leaders))
	for i, r := range leaders {
		rows = append(rows, m.renderResultRow(i, fmt.Sprintf("%-3d", i+1), r, nameWidth))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Leaders"), header}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Recent Probes (Detailed View)
// =============================================================================

func (m Model) renderRecentTable() string {
	if len(m.recent) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No probes finished yet. Press 'd' to toggle."),
		)
	}

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	nameWidth := m.nameWidth()
	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-9s %-*s %-12s %-9s %-10s", "Outcome", nameWidth, "Name", "Speed", "Delay", "Resolution"),
	)

	// Newest first.
	var rows []string
	for i := len(m.recent) - 1; i >= 0; i-- {
		shown := len(m.recent) - 1 - i
		if shown >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d older probes", i+1)))
			break
		}
		r := m.recent[i]
		outcome := GetOutcomeStyle(r.Outcome).Render(fmt.Sprintf("%-9s", r.Outcome))
		rows = append(rows, m.renderResultRow(shown, outcome, r, nameWidth))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Recent Probes"),
			header,
		}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func (m Model) nameWidth() int {
	w := m.width - 50
	if w < 12 {
		w = 12
	}
	if w > 40 {
		w = 40
	}
	return w
}

func (m Model) renderResultRow(i int, prefix string, r model.ProbeResult, nameWidth int) string {
	rowStyle := tableRowEvenStyle
	if i%2 == 1 {
		rowStyle = tableRowOddStyle
	}

	speed := GetSpeedStyle(r.Speed, m.filter.MinSpeed).Render(fmt.Sprintf("%-12s", formatSpeedValue(r.Speed)))
	return rowStyle.Render(fmt.Sprintf("%s %-*s ", prefix, nameWidth, truncate(r.Name, nameWidth))) +
		speed +
		rowStyle.Render(fmt.Sprintf(" %-9s %-10s", formatDelay(r.Delay), r.Resolution))
}

// =============================================================================
// Recent Warnings
// =============================================================================

func (m Model) renderLogs() string {
	if m.logSource == nil {
		return ""
	}
	lines := m.logSource.RecentLines(5)
	if len(lines) == 0 {
		return ""
	}

	rows := make([]string, len(lines))
	for i, l := range lines {
		rows[i] = mutedStyle.Render(truncate(l, m.width-6))
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Recent Warnings")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle details",
		"r: refresh",
	}

	right := "Source: " + truncate(m.source, m.width-60)
	if m.metricsAddr != "" {
		right += " │ Metrics: " + m.metricsAddr
	}
	if m.runs > 1 {
		right += fmt.Sprintf(" │ Run #%d", m.runs)
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	rightRendered := dimStyle.Render(right)

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(rightRendered) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			rightRendered,
		),
	)
}

