// Package tui provides a live terminal dashboard for the stack launcher.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for
// styling. It displays the supervisor phase, per-service lifecycle state,
// readiness probe progress, and recent child output.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/fraudstack/stackup/internal/supervisor"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder).
				MarginTop(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(20)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	outputLineStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Progress Bar Styles
// =============================================================================

var (
	progressBarStyle = lipgloss.NewStyle().
				Foreground(colorPrimary)

	progressBarEmptyStyle = lipgloss.NewStyle().
				Foreground(colorBorder)

	progressPercentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)
)

// =============================================================================
// State and Phase Indicators
// =============================================================================

// StateStyle returns the style for a process lifecycle state.
func StateStyle(state supervisor.ProcessState) lipgloss.Style {
	switch state {
	case supervisor.StateRunning:
		return statusOK
	case supervisor.StateStarting, supervisor.StateStopping:
		return statusWarning
	case supervisor.StateFailed:
		return statusError
	case supervisor.StateStopped:
		return statusInfo
	default:
		return dimStyle
	}
}

// PhaseStyle returns the style for a supervisor phase.
func PhaseStyle(phase supervisor.Phase) lipgloss.Style {
	switch phase {
	case supervisor.PhaseMonitoring:
		return statusOK
	case supervisor.PhaseShuttingDown:
		return statusWarning
	case supervisor.PhaseAborted:
		return statusError
	case supervisor.PhaseTerminated:
		return statusInfo
	default:
		return statusWarning
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
