// Package supervisor coordinates the startup ordering, monitoring, and
// shutdown of the managed backend and frontend services.
package supervisor

// ProcessState represents the current state of a managed process.
// Transitions are monotonic forward; a stopped or failed process is never
// restarted in place, it must be re-created as a fresh ManagedProcess.
type ProcessState int

const (
	// StateNotStarted is the initial state before any spawn attempt.
	StateNotStarted ProcessState = iota

	// StateStarting indicates the process has been spawned but is not yet
	// confirmed usable (readiness probe or settle delay pending).
	StateStarting

	// StateRunning indicates the process is confirmed up.
	StateRunning

	// StateStopping indicates a termination request is in flight.
	StateStopping

	// StateStopped indicates the process exited through the shutdown path.
	StateStopped

	// StateFailed is terminal: the process never became ready, or exited
	// outside the shutdown path.
	StateFailed
)

// String returns a human-readable name for the state.
func (s ProcessState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if no further transitions are possible.
func (s ProcessState) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// ValidTransition reports whether moving from one state to another is a
// legal forward transition.
func ValidTransition(from, to ProcessState) bool {
	switch from {
	case StateNotStarted:
		return to == StateStarting || to == StateFailed
	case StateStarting:
		return to == StateRunning || to == StateStopping || to == StateFailed
	case StateRunning:
		return to == StateStopping || to == StateFailed
	case StateStopping:
		return to == StateStopped || to == StateFailed
	default:
		return false
	}
}

// Phase is the launch state machine position of the supervisor itself.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseCheckBackendExternal
	PhaseStartingBackend
	PhaseWaitingBackendReady
	PhaseStartingFrontend
	PhaseMonitoring
	PhaseShuttingDown
	PhaseTerminated
	PhaseAborted
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseCheckBackendExternal:
		return "check_backend_external"
	case PhaseStartingBackend:
		return "starting_backend"
	case PhaseWaitingBackendReady:
		return "waiting_backend_ready"
	case PhaseStartingFrontend:
		return "starting_frontend"
	case PhaseMonitoring:
		return "monitoring"
	case PhaseShuttingDown:
		return "shutting_down"
	case PhaseTerminated:
		return "terminated"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
