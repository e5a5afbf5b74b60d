package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fraudstack/stackup/internal/supervisor"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// render renders the dashboard.
func (m Model) render() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderServices())

	if m.phase == supervisor.PhaseWaitingBackendReady && m.cfg.PollAttempts > 0 {
		sections = append(sections, m.renderProbeProgress())
	}

	if m.backend != nil {
		sections = append(sections, m.renderBackendTraffic())
	}

	if lines := m.recentOutput(); len(lines) > 0 {
		sections = append(sections, m.renderOutput(lines))
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" stackup │ %s │ Elapsed: %s ",
		m.phase.String(),
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Services Section
// =============================================================================

func (m Model) renderServices() string {
	rows := []string{
		sectionHeaderStyle.Render("Services"),
		dimStyle.Render(fmt.Sprintf("  %-12s %-12s %8s %12s", "SERVICE", "STATE", "PID", "UPTIME")),
	}

	if m.external {
		rows = append(rows, fmt.Sprintf("  %-12s %s",
			supervisor.BackendName,
			statusInfo.Render("external (already running)"),
		))
	}

	for _, p := range m.procs {
		pid := "-"
		if p.Pid > 0 {
			pid = fmt.Sprintf("%d", p.Pid)
		}
		uptime := "-"
		if p.Uptime > 0 {
			uptime = formatDuration(p.Uptime)
		}
		state := StateStyle(p.State).Render(fmt.Sprintf("%-12s", p.State.String()))
		rows = append(rows, fmt.Sprintf("  %-12s %s %8s %12s", p.Name, state, pid, uptime))
	}

	if len(rows) == 2 && !m.external {
		rows = append(rows, dimStyle.Render("  (no services yet)"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// =============================================================================
// Probe Progress Section
// =============================================================================

func (m Model) renderProbeProgress() string {
	progress := float64(m.probeAttempt) / float64(m.cfg.PollAttempts)

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	status := statusInfo.Render(fmt.Sprintf("Waiting for %s... attempt %d/%d",
		m.probeService, m.probeAttempt, m.cfg.PollAttempts))
	if m.probeResult == "ready" {
		status = statusOK.Render("✓ Backend ready")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Readiness Probe"),
		RenderProgressBar(progress, barWidth),
		status,
	)
}

// =============================================================================
// Backend Traffic Section
// =============================================================================

func (m Model) renderBackendTraffic() string {
	b := m.backend

	if !b.Healthy {
		return lipgloss.JoinVertical(lipgloss.Left,
			sectionHeaderStyle.Render("Backend Traffic"),
			statusWarning.Render("● scrape failing: "+b.Error),
		)
	}

	rows := []string{
		sectionHeaderStyle.Render("Backend Traffic"),
		RenderKeyValue("Requests Served", fmt.Sprintf("%.0f", b.RequestsTotal)),
		RenderKeyValue("Request Rate", formatRate(b.RequestRate)),
		RenderKeyValue("In Flight", fmt.Sprintf("%.0f", b.InFlight)),
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// =============================================================================
// Recent Output Section
// =============================================================================

// recentOutput interleaves the tail of both services' captured output.
func (m Model) recentOutput() []string {
	var lines []string
	if m.cfg.BackendOutput != nil {
		for _, l := range m.cfg.BackendOutput.RecentLines(4) {
			lines = append(lines, "[backend]  "+l)
		}
	}
	if m.cfg.FrontendOutput != nil {
		for _, l := range m.cfg.FrontendOutput.RecentLines(4) {
			lines = append(lines, "[frontend] "+l)
		}
	}
	return lines
}

func (m Model) renderOutput(lines []string) string {
	rows := []string{sectionHeaderStyle.Render("Recent Output")}
	maxWidth := m.width - 4
	for _, line := range lines {
		if maxWidth > 10 && len(line) > maxWidth {
			line = line[:maxWidth-3] + "..."
		}
		rows = append(rows, outputLineStyle.Render("  "+line))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	var parts []string

	if m.cfg.BackendURL != "" {
		parts = append(parts, "Backend: "+m.cfg.BackendURL)
	}
	if m.cfg.FrontendURL != "" {
		parts = append(parts, "Frontend: "+m.cfg.FrontendURL)
	}
	if m.cfg.MetricsAddr != "" {
		parts = append(parts, "Metrics: http://"+m.cfg.MetricsAddr+"/metrics")
	}
	parts = append(parts, "q: quit")

	return footerStyle.Render(strings.Join(parts, " │ "))
}
