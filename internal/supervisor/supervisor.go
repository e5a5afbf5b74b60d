package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fraudstack/stackup/internal/probe"
	"github.com/fraudstack/stackup/internal/process"
)

// Service names. At most one running managed process exists per name.
const (
	BackendName  = "backend"
	FrontendName = "frontend"
)

// errShutdownRequested signals that the launch sequence was interrupted by
// the shutdown flag; it never escapes Run.
var errShutdownRequested = errors.New("shutdown requested")

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnPhaseChange is called when the supervisor phase changes.
	OnPhaseChange func(oldPhase, newPhase Phase)

	// OnProcessState is called when a managed process changes state.
	OnProcessState func(name string, oldState, newState ProcessState)

	// OnProcessStart is called when a managed process is spawned.
	OnProcessStart func(name string, pid int)

	// OnProcessExit is called when a managed process's life ends, through
	// either the shutdown path or an unexpected exit.
	OnProcessExit func(name string, exitCode int, uptime time.Duration)

	// OnProbeAttempt is called for every readiness probe attempt.
	OnProbeAttempt probe.AttemptFunc
}

// Config holds configuration for creating a Supervisor.
type Config struct {
	Backend  *process.Spec
	Frontend *process.Spec

	BackendHealthURL  string
	FrontendHealthURL string // "" = use the settle delay

	ProbeTimeout time.Duration
	PollInterval time.Duration
	PollAttempts int

	FrontendSettle  time.Duration
	GracePeriod     time.Duration
	MonitorInterval time.Duration

	BackendSink  process.OutputSink
	FrontendSink process.OutputSink

	Logger    *slog.Logger
	Callbacks Callbacks
}

// Supervisor owns the managed processes and drives the launch state
// machine: detect an external backend, otherwise spawn one and gate the
// frontend on its readiness, monitor both, and coordinate shutdown.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	prb    *probe.Probe

	// shutdown is the only state written from signal-handling context.
	// The monitoring loop polls it; process manipulation never happens
	// from the signal path.
	shutdown atomic.Bool

	// stopOnce guards the terminate-everything pass so a second trigger
	// (e.g. a second signal) is a guaranteed no-op.
	stopOnce sync.Once

	mu              sync.Mutex
	phase           Phase
	procs           map[string]*ManagedProcess
	order           []string
	backendExternal bool
}

// New creates a Supervisor. It does not spawn anything until Run.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger,
		prb:    probe.New(cfg.ProbeTimeout),
		phase:  PhaseInit,
		procs:  make(map[string]*ManagedProcess),
	}
}

// RequestShutdown sets the shutdown flag. Safe to call from signal-handling
// context and safe to call more than once; only the first write matters.
func (s *Supervisor) RequestShutdown() {
	s.shutdown.Store(true)
}

// ShutdownRequested reports whether the shutdown flag has been set.
func (s *Supervisor) ShutdownRequested() bool {
	return s.shutdown.Load()
}

// Phase returns the current supervisor phase.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// BackendExternal reports whether the backend was detected already running
// and is therefore not owned by this supervisor.
func (s *Supervisor) BackendExternal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendExternal
}

// Ready reports whether the supervisor is monitoring and every owned
// process is confirmed running. Wired to the /ready health endpoint.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseMonitoring {
		return false
	}
	for _, mp := range s.procs {
		if mp.state != StateRunning {
			return false
		}
	}
	return true
}

// Snapshot returns read-only info for every owned process, in spawn order.
func (s *Supervisor) Snapshot() []ProcessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]ProcessInfo, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, s.procs[name].info())
	}
	return infos
}

// Run drives the full lifecycle. It blocks until shutdown and returns nil
// only for an intentional (flag-triggered) shutdown; any startup or
// runtime failure returns a non-nil error after everything owned has been
// terminated.
func (s *Supervisor) Run(ctx context.Context) error {
	// An already-running backend is not ours to stop later.
	s.setPhase(PhaseCheckBackendExternal)
	if s.prb.Check(ctx, s.cfg.BackendHealthURL) == probe.Ready {
		s.mu.Lock()
		s.backendExternal = true
		s.mu.Unlock()
		s.logger.Info("backend_already_running", "url", s.cfg.BackendHealthURL)
	} else {
		if err := s.startBackend(ctx); err != nil {
			return s.finishStartup(err)
		}
	}

	if s.shutdown.Load() {
		return s.finishStartup(errShutdownRequested)
	}

	if err := s.startFrontend(ctx); err != nil {
		return s.finishStartup(err)
	}

	if s.shutdown.Load() {
		return s.finishStartup(errShutdownRequested)
	}

	s.setPhase(PhaseMonitoring)
	s.logger.Info("system_ready",
		"backend_external", s.BackendExternal(),
		"owned_services", len(s.Snapshot()),
	)

	return s.monitor(ctx)
}

// finishStartup terminates anything owned and maps startup outcomes to
// Run's contract: shutdown-flag interruptions are intentional (nil), all
// other failures end in the Aborted phase.
func (s *Supervisor) finishStartup(err error) error {
	if errors.Is(err, errShutdownRequested) {
		s.stopAll("signal_shutdown")
		s.setPhase(PhaseTerminated)
		return nil
	}

	s.logger.Error("startup_failed", "error", err)
	s.stopAll("startup_failure")
	s.setPhase(PhaseAborted)
	return err
}

// startBackend spawns the backend and blocks until it is observed ready.
func (s *Supervisor) startBackend(ctx context.Context) error {
	s.setPhase(PhaseStartingBackend)

	mp, err := s.spawnOwned(s.cfg.Backend, s.cfg.BackendSink)
	if err != nil {
		return &StartupError{Service: BackendName, Err: err}
	}

	s.setPhase(PhaseWaitingBackendReady)
	poller := &probe.Poller{
		Probe:       s.prb,
		Service:     BackendName,
		Interval:    s.cfg.PollInterval,
		MaxAttempts: s.cfg.PollAttempts,
		Logger:      s.logger,
		OnAttempt:   s.cfg.Callbacks.OnProbeAttempt,
		Cancel:      s.shutdown.Load,
	}

	attempts, err := poller.WaitReady(ctx, s.cfg.BackendHealthURL)
	if err != nil {
		if errors.Is(err, probe.ErrCancelled) {
			return errShutdownRequested
		}
		s.terminateFailed(mp)
		return &StartupError{Service: BackendName, Err: err}
	}

	s.setProcState(mp, StateRunning)
	s.logger.Info("backend_ready",
		"url", s.cfg.BackendHealthURL,
		"attempts", attempts,
	)
	return nil
}

// startFrontend spawns the frontend once the backend is known good. With
// no readiness endpoint of its own, the frontend gets a fixed settle delay
// followed by a liveness check; when a health URL is configured it is
// polled instead.
func (s *Supervisor) startFrontend(ctx context.Context) error {
	s.setPhase(PhaseStartingFrontend)

	mp, err := s.spawnOwned(s.cfg.Frontend, s.cfg.FrontendSink)
	if err != nil {
		return &StartupError{Service: FrontendName, Err: err}
	}

	if s.cfg.FrontendHealthURL != "" {
		poller := &probe.Poller{
			Probe:       s.prb,
			Service:     FrontendName,
			Interval:    s.cfg.PollInterval,
			MaxAttempts: s.cfg.PollAttempts,
			Logger:      s.logger,
			OnAttempt:   s.cfg.Callbacks.OnProbeAttempt,
			Cancel:      s.shutdown.Load,
		}
		if _, err := poller.WaitReady(ctx, s.cfg.FrontendHealthURL); err != nil {
			if errors.Is(err, probe.ErrCancelled) {
				return errShutdownRequested
			}
			s.terminateFailed(mp)
			return &StartupError{Service: FrontendName, Err: err}
		}
	} else {
		// Known weak point: a fixed delay is not a readiness signal. The
		// liveness check below at least catches an instant crash.
		select {
		case <-time.After(s.cfg.FrontendSettle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !mp.alive() {
		exitCode := mp.handle.ExitCode()
		s.setProcState(mp, StateFailed)
		return &StartupError{
			Service: FrontendName,
			Err:     &UnexpectedExitError{Service: FrontendName, ExitCode: exitCode},
		}
	}

	s.setProcState(mp, StateRunning)
	s.logger.Info("frontend_ready", "settle", s.cfg.FrontendSettle.String())
	return nil
}

// terminateFailed stops a spawned process that never became ready, then
// marks it Failed. The order matters: stopAll skips terminal states, so
// the handle must be stopped before the state goes terminal or the child
// would outlive the supervisor.
func (s *Supervisor) terminateFailed(mp *ManagedProcess) {
	s.mu.Lock()
	handle := mp.handle
	s.mu.Unlock()

	if handle != nil && handle.Alive() {
		result := handle.Terminate(s.cfg.GracePeriod)
		s.logger.Info("service_stopped",
			"service", mp.name,
			"result", result.String(),
			"exit_code", handle.ExitCode(),
		)
	}
	s.setProcState(mp, StateFailed)
}

// spawnOwned creates and spawns a fresh ManagedProcess, enforcing the
// one-running-process-per-name invariant.
func (s *Supervisor) spawnOwned(spec *process.Spec, sink process.OutputSink) (*ManagedProcess, error) {
	s.mu.Lock()
	if existing, ok := s.procs[spec.Name]; ok && !existing.state.IsTerminal() {
		s.mu.Unlock()
		return nil, errors.New("process already managed: " + spec.Name)
	}
	mp := newManagedProcess(spec.Name, spec)
	s.procs[spec.Name] = mp
	s.order = append(s.order, spec.Name)
	s.mu.Unlock()

	s.setProcState(mp, StateStarting)

	handle, err := process.Spawn(spec, sink, s.logger)
	if err != nil {
		s.setProcState(mp, StateFailed)
		return nil, err
	}

	s.mu.Lock()
	mp.handle = handle
	s.mu.Unlock()

	if s.cfg.Callbacks.OnProcessStart != nil {
		s.cfg.Callbacks.OnProcessStart(mp.name, handle.Pid())
	}

	return mp, nil
}

// monitor is the steady-state loop: fixed-interval liveness checks on
// every owned process plus the shutdown flag.
func (s *Supervisor) monitor(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll("context_cancelled")
			s.setPhase(PhaseTerminated)
			return ctx.Err()

		case <-ticker.C:
			if s.shutdown.Load() {
				s.logger.Info("shutdown_flag_observed")
				s.stopAll("signal_shutdown")
				s.setPhase(PhaseTerminated)
				return nil
			}

			if dead := s.findDeadProcess(); dead != nil {
				s.logger.Error("service_exited_unexpectedly",
					"service", dead.Name,
					"exit_code", dead.ExitCode,
					"uptime", dead.Uptime.String(),
				)
				if s.cfg.Callbacks.OnProcessExit != nil {
					s.cfg.Callbacks.OnProcessExit(dead.Name, dead.ExitCode, dead.Uptime)
				}
				s.stopAll("unexpected_exit")
				s.setPhase(PhaseTerminated)
				return &UnexpectedExitError{Service: dead.Name, ExitCode: dead.ExitCode}
			}
		}
	}
}

// findDeadProcess scans owned running processes and marks the first dead
// one Failed, returning its snapshot. Returns nil when all are alive.
func (s *Supervisor) findDeadProcess() *ProcessInfo {
	s.mu.Lock()
	var dead *ManagedProcess
	for _, name := range s.order {
		mp := s.procs[name]
		if mp.state == StateRunning && !mp.alive() {
			dead = mp
			break
		}
	}
	s.mu.Unlock()

	if dead == nil {
		return nil
	}

	s.setProcState(dead, StateFailed)
	info := dead.info()
	return &info
}

// stopAll terminates every owned process still alive, each bounded by the
// grace period, and collects results best-effort. Guarded so a second
// invocation is a no-op.
func (s *Supervisor) stopAll(reason string) {
	s.stopOnce.Do(func() {
		s.setPhase(PhaseShuttingDown)
		s.logger.Info("shutting_down", "reason", reason)

		s.mu.Lock()
		targets := make([]*ManagedProcess, 0, len(s.order))
		for _, name := range s.order {
			targets = append(targets, s.procs[name])
		}
		s.mu.Unlock()

		for _, mp := range targets {
			s.mu.Lock()
			state := mp.state
			handle := mp.handle
			s.mu.Unlock()

			if state.IsTerminal() || handle == nil {
				continue
			}

			s.setProcState(mp, StateStopping)
			result := handle.Terminate(s.cfg.GracePeriod)
			s.setProcState(mp, StateStopped)

			s.logger.Info("service_stopped",
				"service", mp.name,
				"result", result.String(),
				"exit_code", handle.ExitCode(),
			)

			if s.cfg.Callbacks.OnProcessExit != nil {
				s.cfg.Callbacks.OnProcessExit(mp.name, handle.ExitCode(), handle.Uptime())
			}
		}

		s.logger.Info("all_services_stopped")
	})
}

// setPhase updates the supervisor phase and fires the callback.
func (s *Supervisor) setPhase(newPhase Phase) {
	s.mu.Lock()
	oldPhase := s.phase
	s.phase = newPhase
	s.mu.Unlock()

	if oldPhase == newPhase {
		return
	}

	s.logger.Debug("phase_change",
		"from", oldPhase.String(),
		"to", newPhase.String(),
	)

	if s.cfg.Callbacks.OnPhaseChange != nil {
		s.cfg.Callbacks.OnPhaseChange(oldPhase, newPhase)
	}
}

// setProcState updates a managed process state and fires the callback.
// Illegal transitions are logged and dropped; with state mutation confined
// to Run's control flow this indicates a bug, not a race.
func (s *Supervisor) setProcState(mp *ManagedProcess, newState ProcessState) {
	s.mu.Lock()
	oldState := mp.state
	if !ValidTransition(oldState, newState) {
		s.mu.Unlock()
		s.logger.Warn("invalid_state_transition",
			"service", mp.name,
			"from", oldState.String(),
			"to", newState.String(),
		)
		return
	}
	mp.state = newState
	s.mu.Unlock()

	if s.cfg.Callbacks.OnProcessState != nil {
		s.cfg.Callbacks.OnProcessState(mp.name, oldState, newState)
	}
}
