package tui

import (
	"math"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

// =============================================================================
// Tests: GetOutcomeStyle
// =============================================================================

func TestGetOutcomeStyle(t *testing.T) {
	tests := []struct {
		outcome model.Outcome
		want    lipgloss.TerminalColor
	}{
		{model.OutcomeMeasured, colorSuccess},
		{model.OutcomeCached, colorInfo},
		{model.OutcomeForced, colorWarning},
		{model.OutcomeFailed, colorError},
		{model.Outcome("bogus"), colorError},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			if got := GetOutcomeStyle(tt.outcome).GetForeground(); got != tt.want {
				t.Errorf("GetOutcomeStyle(%q) foreground = %v, want %v", tt.outcome, got, tt.want)
			}
		})
	}
}

func TestGetOutcomeLabel(t *testing.T) {
	if got := GetOutcomeLabel(model.OutcomeCached); !strings.Contains(got, "cached") {
		t.Errorf("GetOutcomeLabel = %q", got)
	}
}

// =============================================================================
// Tests: GetSpeedStyle
// =============================================================================

func TestGetSpeedStyle(t *testing.T) {
	tests := []struct {
		name  string
		speed float64
		want  lipgloss.TerminalColor
	}{
		{"twice the minimum", 2.0, colorSuccess},
		{"well above", 9.5, colorSuccess},
		{"at minimum", 1.0, colorWarning},
		{"just above", 1.5, colorWarning},
		{"below", 0.8, colorError},
		{"zero", 0, colorError},
		{"forced", math.Inf(1), colorWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSpeedStyle(tt.speed, 1.0).GetForeground(); got != tt.want {
				t.Errorf("GetSpeedStyle(%v, 1) foreground = %v, want %v", tt.speed, got, tt.want)
			}
		})
	}
}

func TestGetSpeedLabel(t *testing.T) {
	tests := []struct {
		name  string
		speed float64
		want  string
	}{
		{"zero", 0, "N/A"},
		{"measured", 2.5, "2.50 MB/s"},
		{"forced", math.Inf(1), "forced"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSpeedLabel(tt.speed, 1); !strings.Contains(got, tt.want) {
				t.Errorf("GetSpeedLabel(%v) = %q, want to contain %q", tt.speed, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: GetFailureRateStyle
// =============================================================================

func TestGetFailureRateStyle(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want lipgloss.TerminalColor
	}{
		{"zero", 0, colorSuccess},
		{"some dead links", 0.2, colorSuccess},
		{"a third", 0.33, colorWarning},
		{"half", 0.5, colorError},
		{"all", 1, colorError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetFailureRateStyle(tt.rate).GetForeground(); got != tt.want {
				t.Errorf("GetFailureRateStyle(%v) foreground = %v, want %v", tt.rate, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: RenderKeyValue
// =============================================================================

func TestRenderKeyValue(t *testing.T) {
	result := RenderKeyValue("Label", "Value")

	if !strings.Contains(result, "Label") {
		t.Error("result should contain label")
	}
	if !strings.Contains(result, "Value") {
		t.Error("result should contain value")
	}
}

// =============================================================================
// Tests: RenderProgressBar
// =============================================================================

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		width    int
	}{
		{"0%", 0, 20},
		{"50%", 0.5, 20},
		{"100%", 1.0, 20},
		{"narrow", 0.5, 5},
		{"wide", 0.5, 50},
		{"over 100%", 1.5, 20},
		{"negative", -0.1, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderProgressBar(tt.progress, tt.width)
			if result == "" {
				t.Error("RenderProgressBar returned empty string")
			}
			if !strings.Contains(result, "%") {
				t.Error("result should contain percentage")
			}
		})
	}
}

// =============================================================================
// Tests: repeatChar
// =============================================================================

func TestRepeatChar(t *testing.T) {
	tests := []struct {
		char  rune
		count int
		want  string
	}{
		{'x', 0, ""},
		{'x', 1, "x"},
		{'x', 5, "xxxxx"},
		{'█', 3, "███"},
		{'x', -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := repeatChar(tt.char, tt.count); got != tt.want {
				t.Errorf("repeatChar(%q, %d) = %q, want %q", tt.char, tt.count, got, tt.want)
			}
		})
	}
}
