// Package launcher wires the supervisor together with its observability
// surfaces: metrics, the backend scraper, the terminal dashboard, signal
// handling, and the exit summary.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fraudstack/stackup/internal/config"
	"github.com/fraudstack/stackup/internal/logging"
	"github.com/fraudstack/stackup/internal/metrics"
	"github.com/fraudstack/stackup/internal/preflight"
	"github.com/fraudstack/stackup/internal/probe"
	"github.com/fraudstack/stackup/internal/process"
	"github.com/fraudstack/stackup/internal/stats"
	"github.com/fraudstack/stackup/internal/supervisor"
	"github.com/fraudstack/stackup/internal/tui"
)

// Launcher coordinates all components for one run of the stack.
type Launcher struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	sup           *supervisor.Supervisor
	collector     *metrics.Collector
	metricsServer *metrics.Server
	scraper       *metrics.BackendScraper
	probeStats    *stats.ProbeRecorder

	backendOut  *logging.OutputHandler
	frontendOut *logging.OutputHandler

	// tuiProgram is set only while the dashboard runs; probe callbacks
	// feed it, anything else goes through the supervisor snapshot.
	tuiProgram *tea.Program

	startTime time.Time
}

// New creates a Launcher with the given configuration. The command lines
// are parsed here so a malformed one fails before anything is spawned.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Launcher, error) {
	backendSpec, err := process.ParseCommand(supervisor.BackendName, cfg.BackendCmd)
	if err != nil {
		return nil, fmt.Errorf("backend command: %w", err)
	}
	frontendSpec, err := process.ParseCommand(supervisor.FrontendName, cfg.FrontendCmd)
	if err != nil {
		return nil, fmt.Errorf("frontend command: %w", err)
	}

	l := &Launcher{
		config:     cfg,
		logger:     logger,
		version:    version,
		probeStats: stats.NewProbeRecorder(),
	}

	l.backendOut = logging.NewOutputHandler(supervisor.BackendName, logger, cfg.Verbose)
	l.frontendOut = logging.NewOutputHandler(supervisor.FrontendName, logger, cfg.Verbose)

	if cfg.MetricsAddr != "" {
		l.collector = metrics.NewCollector(nil)
		l.collector.SetInfo(version, cfg.BackendBaseURL)
	}

	l.scraper = metrics.NewBackendScraper(cfg.BackendMetricsURL, cfg.ScrapeInterval, logger)

	l.sup = supervisor.New(supervisor.Config{
		Backend:           backendSpec,
		Frontend:          frontendSpec,
		BackendHealthURL:  cfg.HealthURL(),
		FrontendHealthURL: cfg.FrontendHealthURL,
		ProbeTimeout:      cfg.ProbeTimeout,
		PollInterval:      cfg.PollInterval,
		PollAttempts:      cfg.PollAttempts,
		FrontendSettle:    cfg.FrontendSettle,
		GracePeriod:       cfg.GracePeriod,
		MonitorInterval:   cfg.MonitorInterval,
		BackendSink:       l.backendOut,
		FrontendSink:      l.frontendOut,
		Logger:            logger,
		Callbacks: supervisor.Callbacks{
			OnPhaseChange:  l.onPhaseChange,
			OnProcessState: l.onProcessState,
			OnProcessStart: l.onProcessStart,
			OnProcessExit:  l.onProcessExit,
			OnProbeAttempt: l.onProbeAttempt,
		},
	})

	if cfg.MetricsAddr != "" {
		l.metricsServer = metrics.NewServer(cfg.MetricsAddr, l.sup.Ready, logger)
	}

	return l, nil
}

// Check validates the environment without spawning anything: preflight
// checks plus a single readiness probe against the backend URL.
func (l *Launcher) Check(ctx context.Context) error {
	backendExternal := probe.New(l.config.ProbeTimeout).Check(ctx, l.config.HealthURL()) == probe.Ready

	result := preflight.RunAll(
		backendExec(l.config), frontendExec(l.config),
		l.config.FrontendPort, backendExternal,
	)
	preflight.PrintResults(result)

	if backendExternal {
		fmt.Printf("Backend probe: ready (%s, already running)\n", l.config.HealthURL())
	} else {
		fmt.Printf("Backend probe: not ready (%s, would be launched)\n", l.config.HealthURL())
	}

	if !result.Passed {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

// Run launches the stack. It blocks until shutdown and returns nil only
// when the run ended because shutdown was requested.
func (l *Launcher) Run(ctx context.Context) error {
	l.startTime = time.Now()

	if !l.config.SkipPreflight {
		backendExternal := probe.New(l.config.ProbeTimeout).Check(ctx, l.config.HealthURL()) == probe.Ready
		result := preflight.RunAll(
			backendExec(l.config), frontendExec(l.config),
			l.config.FrontendPort, backendExternal,
		)
		preflight.PrintResults(result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	if l.metricsServer != nil {
		if err := l.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Signal handling only flips the shutdown flag; the monitor loop does
	// the actual process work.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		for sig := range sigCh {
			l.logger.Info("received_signal", "signal", sig.String())
			l.sup.RequestShutdown()
		}
	}()

	go l.scraper.Run(ctx)

	if l.collector != nil {
		go l.updateUptimeLoop(ctx)
	}

	var runErr error
	if l.config.TUIEnabled {
		runErr = l.runWithDashboard(ctx)
	} else {
		runErr = l.sup.Run(ctx)
	}

	if l.collector != nil && runErr == nil {
		l.collector.RecordCleanShutdown()
	}

	if l.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := l.metricsServer.Shutdown(shutdownCtx); err != nil {
			l.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}

	l.printExitSummary(runErr)

	return runErr
}

// runWithDashboard runs the supervisor with the TUI in the foreground.
func (l *Launcher) runWithDashboard(ctx context.Context) error {
	model := tui.New(tui.Config{
		BackendURL:     l.config.BackendBaseURL,
		FrontendURL:    l.config.FrontendURL(),
		MetricsAddr:    l.config.MetricsAddr,
		PollAttempts:   l.config.PollAttempts,
		Status:         l.sup,
		BackendOutput:  l.backendOut,
		FrontendOutput: l.frontendOut,
		Scraper:        l.scraper,
		OnShutdown:     l.sup.RequestShutdown,
	})
	l.tuiProgram = tea.NewProgram(model, tea.WithAltScreen())

	program := l.tuiProgram
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.sup.Run(ctx)
		tui.SendQuit(program)
	}()

	if _, err := l.tuiProgram.Run(); err != nil {
		l.logger.Warn("dashboard_error", "error", err)
		l.sup.RequestShutdown()
	}

	runErr := <-errCh
	l.tuiProgram = nil
	return runErr
}

// updateUptimeLoop keeps the uptime gauges fresh while processes run.
func (l *Launcher) updateUptimeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range l.sup.Snapshot() {
				if p.State == supervisor.StateRunning {
					l.collector.SetServiceUptime(p.Name, p.Uptime)
				}
			}
		}
	}
}

// Callback handlers

func (l *Launcher) onPhaseChange(oldPhase, newPhase supervisor.Phase) {
	if l.collector != nil {
		l.collector.SetPhase(newPhase.String())
	}
}

func (l *Launcher) onProcessState(name string, oldState, newState supervisor.ProcessState) {
	if l.collector != nil {
		l.collector.SetServiceState(name, newState.String())
	}
}

func (l *Launcher) onProcessStart(name string, pid int) {
	if l.config.Verbose {
		l.logger.Debug("service_process_started", "service", name, "pid", pid)
	}
}

func (l *Launcher) onProcessExit(name string, exitCode int, uptime time.Duration) {
	if l.collector != nil {
		l.collector.SetServiceUptime(name, uptime)
		if l.sup.Phase() == supervisor.PhaseMonitoring {
			// Exits during monitoring are never requested
			l.collector.RecordUnexpectedExit(name)
		}
	}
}

func (l *Launcher) onProbeAttempt(service string, attempt int, result probe.Result, latency time.Duration) {
	l.probeStats.Record(latency)
	if l.collector != nil {
		l.collector.RecordProbeAttempt(result.String(), latency)
	}
	if l.tuiProgram != nil {
		tui.SendProbe(l.tuiProgram, service, attempt, result.String())
	}
	if !l.config.TUIEnabled && !l.config.Verbose {
		// Poll feedback on the console, matching the probe cadence
		fmt.Printf("  waiting for %s... attempt %d/%d\n", service, attempt, l.config.PollAttempts)
	}
}

// printExitSummary prints a summary of the run.
func (l *Launcher) printExitSummary(runErr error) {
	fmt.Print(stats.FormatExitSummary(l.summaryConfig(runErr)))
}

// summaryConfig assembles the exit summary from the final supervisor and
// scraper state.
func (l *Launcher) summaryConfig(runErr error) stats.SummaryConfig {
	cfg := stats.SummaryConfig{
		Duration:    time.Since(l.startTime),
		Phase:       l.sup.Phase().String(),
		BackendURL:  l.config.BackendBaseURL,
		FrontendURL: l.config.FrontendURL(),
		Probe:       l.probeStats.Snapshot(),
		Errors:      make(map[string]map[string]int),
	}

	if l.metricsServer != nil {
		cfg.MetricsAddr = l.metricsServer.Addr()
	}

	for name, out := range map[string]*logging.OutputHandler{
		supervisor.BackendName:  l.backendOut,
		supervisor.FrontendName: l.frontendOut,
	} {
		if counts := out.CountErrors(); len(counts) > 0 {
			cfg.Errors[name] = counts
		}
	}

	if runErr != nil {
		cfg.Reason = runErr.Error()
	} else {
		cfg.Reason = "shutdown requested"
	}

	if l.sup.BackendExternal() {
		cfg.Services = append(cfg.Services, stats.ServiceSummary{
			Name:     supervisor.BackendName,
			External: true,
		})
	}
	for _, p := range l.sup.Snapshot() {
		cfg.Services = append(cfg.Services, stats.ServiceSummary{
			Name:     p.Name,
			State:    p.State.String(),
			PID:      p.Pid,
			Uptime:   p.Uptime,
			ExitCode: p.ExitCode,
		})
	}

	if m := l.scraper.GetMetrics(); m != nil && m.Healthy {
		cfg.Backend = &stats.BackendSummary{
			RequestsTotal: m.RequestsTotal,
			RequestRate:   m.RequestRate,
		}
	}

	return cfg
}

// Supervisor returns the supervisor for external access.
func (l *Launcher) Supervisor() *supervisor.Supervisor {
	return l.sup
}

func backendExec(cfg *config.Config) string {
	spec, err := process.ParseCommand(supervisor.BackendName, cfg.BackendCmd)
	if err != nil {
		return ""
	}
	return spec.Executable()
}

func frontendExec(cfg *config.Config) string {
	spec, err := process.ParseCommand(supervisor.FrontendName, cfg.FrontendCmd)
	if err != nil {
		return ""
	}
	return spec.Executable()
}
