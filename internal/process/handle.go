package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	gops "github.com/shirou/gopsutil/v3/process"
)

// SpawnError indicates a child process could not be started: missing
// executable, permission denied, or resource exhaustion. Spawn failures
// are never retried.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TerminationResult is the outcome of a Terminate call.
type TerminationResult int

const (
	// AlreadyStopped means the process had already exited (or the handle
	// was absent). Never an error.
	AlreadyStopped TerminationResult = iota

	// TerminatedGracefully means the process exited within the grace
	// period after the termination request.
	TerminatedGracefully

	// Killed means the process ignored the termination request and was
	// force-killed.
	Killed
)

// String returns a human-readable name for the result.
func (r TerminationResult) String() string {
	switch r {
	case AlreadyStopped:
		return "already_stopped"
	case TerminatedGracefully:
		return "terminated"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// OutputSink consumes a child process output stream line by line.
type OutputSink interface {
	HandleReader(r io.Reader)
}

// Handle wraps one spawned child process.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	logger    *slog.Logger
	startTime time.Time

	// Closed when Wait() has returned and the exit status is reaped.
	waitCh chan struct{}

	// Guarded by mu; valid once waitCh is closed.
	mu       sync.Mutex
	exitCode int
	waitErr  error
}

// Spawn starts the process described by spec. Child stdout and stderr are
// forwarded to sink when it is non-nil. The child runs in its own process
// group so termination signals reach any grandchildren.
func Spawn(spec *Spec, sink OutputSink, logger *slog.Logger) (*Handle, error) {
	cmd := spec.BuildCommand()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	var stdout, stderr io.ReadCloser
	if sink != nil {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, &SpawnError{Name: spec.Name, Err: fmt.Errorf("stdout pipe: %w", err)}
		}
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, &SpawnError{Name: spec.Name, Err: fmt.Errorf("stderr pipe: %w", err)}
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: spec.Name, Err: err}
	}

	h := &Handle{
		name:      spec.Name,
		cmd:       cmd,
		logger:    logger,
		startTime: time.Now(),
		waitCh:    make(chan struct{}),
		exitCode:  -1,
	}

	if sink != nil {
		go sink.HandleReader(stdout)
		go sink.HandleReader(stderr)
	}

	go h.reap()

	logger.Info("process_started",
		"service", spec.Name,
		"pid", cmd.Process.Pid,
		"command", spec.String(),
	)

	return h, nil
}

// reap waits for the process and records its exit status.
func (h *Handle) reap() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.waitErr = err
	h.exitCode = extractExitCode(err)
	h.mu.Unlock()

	close(h.waitCh)
}

// Name returns the service name for this handle.
func (h *Handle) Name() string {
	return h.name
}

// Pid returns the child process ID.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Uptime returns how long the process has been (or was) running.
func (h *Handle) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// Alive reports whether the process is still running. Non-blocking.
func (h *Handle) Alive() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.waitCh:
		return false
	default:
	}

	// Cross-check against the process table; a reparented or wedged child
	// can be gone before Wait observes it.
	exists, err := gops.PidExists(int32(h.cmd.Process.Pid))
	if err != nil {
		// Can't tell; trust the pending Wait.
		return true
	}
	return exists
}

// ExitCode returns the exit code once the process has exited, -1 before.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Done returns a channel closed when the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.waitCh
}

// Terminate sends a graceful termination request to the process group,
// waits up to grace for voluntary exit, and force-kills if still alive.
// Idempotent: calling it on an exited process (or a nil handle) reports
// AlreadyStopped and never errors.
func (h *Handle) Terminate(grace time.Duration) TerminationResult {
	if h == nil {
		return AlreadyStopped
	}

	select {
	case <-h.waitCh:
		return AlreadyStopped
	default:
	}

	pid := h.cmd.Process.Pid
	h.signal(syscall.SIGTERM)

	select {
	case <-h.waitCh:
		h.logger.Info("process_terminated",
			"service", h.name,
			"pid", pid,
			"exit_code", h.ExitCode(),
		)
		return TerminatedGracefully
	case <-time.After(grace):
	}

	h.logger.Warn("force_killing_process",
		"service", h.name,
		"pid", pid,
		"grace", grace.String(),
	)
	h.signal(syscall.SIGKILL)

	// SIGKILL cannot be ignored; the reaper finishes promptly.
	<-h.waitCh
	return Killed
}

// signal delivers sig to the process group, falling back to the process
// itself if the group is gone.
func (h *Handle) signal(sig syscall.Signal) {
	pid := h.cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil {
		syscall.Kill(-pgid, sig)
	} else {
		h.cmd.Process.Signal(sig)
	}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
