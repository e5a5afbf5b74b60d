package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fraudstack/stackup/internal/metrics"
	"github.com/fraudstack/stackup/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// ProbeMsg reports one readiness probe attempt.
type ProbeMsg struct {
	Service string
	Attempt int
	Result  string
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// StatusSource provides the live supervisor status. Satisfied by
// *supervisor.Supervisor.
type StatusSource interface {
	Phase() supervisor.Phase
	Snapshot() []supervisor.ProcessInfo
	BackendExternal() bool
}

// OutputSource provides recent captured child output lines. Satisfied by
// *logging.OutputHandler.
type OutputSource interface {
	RecentLines(n int) []string
}

// Config holds TUI configuration.
type Config struct {
	BackendURL  string
	FrontendURL string
	MetricsAddr string

	PollAttempts int

	Status         StatusSource
	BackendOutput  OutputSource
	FrontendOutput OutputSource
	Scraper        *metrics.BackendScraper

	// OnShutdown is invoked when the user quits from the dashboard.
	OnShutdown func()
}

// Model represents the TUI state.
type Model struct {
	cfg Config

	phase    supervisor.Phase
	procs    []supervisor.ProcessInfo
	external bool

	probeService string
	probeAttempt int
	probeResult  string

	backend *metrics.BackendMetrics

	startTime  time.Time
	lastUpdate time.Time

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		cfg:        cfg,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
		width:      80,
		height:     24,
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
			if m.cfg.OnShutdown != nil {
				m.cfg.OnShutdown()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case ProbeMsg:
		m.probeService = msg.Service
		m.probeAttempt = msg.Attempt
		m.probeResult = msg.Result
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls the latest status from the supervisor and scraper.
func (m *Model) refresh() {
	if m.cfg.Status != nil {
		m.phase = m.cfg.Status.Phase()
		m.procs = m.cfg.Status.Snapshot()
		m.external = m.cfg.Status.BackendExternal()
	}
	m.backend = m.cfg.Scraper.GetMetrics()
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.render()
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

// Elapsed returns the time since the launcher started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// =============================================================================
// Helpers for external use
// =============================================================================

// SendProbe sends a probe attempt update to the TUI.
func SendProbe(p *tea.Program, service string, attempt int, result string) {
	if p != nil {
		p.Send(ProbeMsg{Service: service, Attempt: attempt, Result: result})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
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

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
