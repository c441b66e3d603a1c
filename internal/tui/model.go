package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-iptv-probe/internal/metrics"
	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/orchestrator"
	"github.com/randomizedcoder/go-iptv-probe/internal/ranker"
)

// recentCapacity is the number of finished probes kept for the detail view.
const recentCapacity = 50

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// RunStartMsg announces a new probe run.
type RunStartMsg struct {
	RunID string
	Total int
}

// ProbeStartMsg reports a probe leaving the pacer.
type ProbeStartMsg struct {
	Index     int
	Candidate model.Candidate
}

// ProbeRetryMsg reports a failed probe being retried.
type ProbeRetryMsg struct {
	Index     int
	Candidate model.Candidate
	Attempt   int
	Delay     time.Duration
}

// ProbeDoneMsg carries one finished probe.
type ProbeDoneMsg struct {
	Index  int
	Result model.ProbeResult
	Done   int
	Total  int
}

// RunDoneMsg reports the end of a run.
type RunDoneMsg struct {
	Survivors  int
	Duration   time.Duration
	Rejections map[ranker.Reason]int
	Err        error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	source        string
	metricsAddr   string
	maxConcurrent int
	filter        ranker.Config

	// Current run
	runID     string
	runs      int
	total     int
	done      int
	outcomes  map[model.Outcome]int
	retries   int
	lastRetry string
	results   []model.ProbeResult
	recent    []model.ProbeResult
	summary   *metrics.Summary
	finished  *RunDoneMsg
	startTime time.Time
	runStart  time.Time

	// Display options
	width        int
	height       int
	detailedView bool

	// Sources polled on every tick (optional)
	summarySource SummarySource
	logSource     LogSource

	// Quit flag
	quitting bool
}

// SummarySource provides live probe counters.
type SummarySource interface {
	GenerateSummary() metrics.Summary
}

// LogSource provides recent warning lines.
type LogSource interface {
	RecentLines(n int) []string
}

// Config holds TUI configuration.
type Config struct {
	Source        string
	MetricsAddr   string
	MaxConcurrent int
	Filter        ranker.Config
	SummarySource SummarySource
	LogSource     LogSource
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		source:        cfg.Source,
		metricsAddr:   cfg.MetricsAddr,
		maxConcurrent: cfg.MaxConcurrent,
		filter:        cfg.Filter,
		summarySource: cfg.SummarySource,
		logSource:     cfg.LogSource,
		outcomes:      make(map[model.Outcome]int),
		startTime:     time.Now(),
		runStart:      time.Now(),
		width:         80,
		height:        24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.summarySource != nil {
			s := m.summarySource.GenerateSummary()
			m.summary = &s
		}
		return m, tickCmd()

	case RunStartMsg:
		m.runID = msg.RunID
		m.runs++
		m.total = msg.Total
		m.done = 0
		m.retries = 0
		m.lastRetry = ""
		m.outcomes = make(map[model.Outcome]int)
		m.results = make([]model.ProbeResult, 0, msg.Total)
		m.recent = nil
		m.finished = nil
		m.runStart = time.Now()
		return m, nil

	case ProbeStartMsg:
		return m, nil

	case ProbeRetryMsg:
		m.retries++
		m.lastRetry = fmt.Sprintf("%s (attempt %d in %s)", msg.Candidate.Name, msg.Attempt, msg.Delay.Round(time.Millisecond))
		return m, nil

	case ProbeDoneMsg:
		m.done = msg.Done
		if msg.Total > 0 {
			m.total = msg.Total
		}
		m.outcomes[msg.Result.Outcome]++
		m.results = append(m.results, msg.Result)
		m.recent = append(m.recent, msg.Result)
		if len(m.recent) > recentCapacity {
			m.recent = m.recent[len(m.recent)-recentCapacity:]
		}
		return m, nil

	case RunDoneMsg:
		m.finished = &msg
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the current run started.
func (m Model) Elapsed() time.Duration {
	if m.finished != nil {
		return m.finished.Duration
	}
	return time.Since(m.runStart)
}

// Done returns the number of finished probes in the current run.
func (m Model) Done() int {
	return m.done
}

// Total returns the number of candidates in the current run.
func (m Model) Total() int {
	return m.total
}

// Progress returns the run progress (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

// InFlight returns the number of probes currently running.
func (m Model) InFlight() int {
	if m.summary == nil {
		return 0
	}
	return m.summary.InFlight
}

// FailureRate returns the share of finished probes that failed.
func (m Model) FailureRate() float64 {
	if m.done == 0 {
		return 0
	}
	return float64(m.outcomes[model.OutcomeFailed]) / float64(m.done)
}

// Leaders returns the best n results so far under the run's filter.
func (m Model) Leaders(n int) []model.ProbeResult {
	ranked := ranker.RankAndFilter(m.results, m.filter)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// =============================================================================
// Helpers for external use
// =============================================================================

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Callbacks returns orchestrator callbacks that forward progress to p.
func Callbacks(p Sender) orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnRunStart: func(runID string, total int) {
			p.Send(RunStartMsg{RunID: runID, Total: total})
		},
		OnProbeStart: func(index int, c model.Candidate) {
			p.Send(ProbeStartMsg{Index: index, Candidate: c})
		},
		OnRetry: func(index int, c model.Candidate, attempt int, delay time.Duration) {
			p.Send(ProbeRetryMsg{Index: index, Candidate: c, Attempt: attempt, Delay: delay})
		},
		OnProbeDone: func(index int, r model.ProbeResult, done, total int) {
			p.Send(ProbeDoneMsg{Index: index, Result: r, Done: done, Total: total})
		},
	}
}

// SendRunDone reports a finished run to the TUI.
func SendRunDone(p Sender, report *orchestrator.Report, err error) {
	if p == nil {
		return
	}
	msg := RunDoneMsg{Err: err}
	if report != nil {
		msg.Survivors = len(report.Survivors)
		msg.Duration = report.Duration
		msg.Rejections = report.Rejections
	}
	p.Send(msg)
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p Sender) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}

// formatDelay formats a delay in milliseconds, or "n/a" when unmeasured.
func formatDelay(ms int) string {
	if ms == model.InvalidDelay {
		return "n/a"
	}
	return fmt.Sprintf("%d ms", ms)
}

// truncate shortens s to at most n runes, marking the cut with "…".
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
