package supervisor

import (
	"time"

	"github.com/fraudstack/stackup/internal/process"
)

// ManagedProcess tracks one owned child process and its lifecycle state.
// It is owned exclusively by the Supervisor; nothing else holds or
// mutates one.
type ManagedProcess struct {
	name   string
	spec   *process.Spec
	handle *process.Handle // nil until spawned
	state  ProcessState
}

// ProcessInfo is a read-only snapshot of a managed process, safe to hand
// to the TUI, metrics, and health endpoints.
type ProcessInfo struct {
	Name     string
	State    ProcessState
	Pid      int // 0 if never spawned
	Uptime   time.Duration
	ExitCode int // -1 while running or never spawned
}

func newManagedProcess(name string, spec *process.Spec) *ManagedProcess {
	return &ManagedProcess{
		name:  name,
		spec:  spec,
		state: StateNotStarted,
	}
}

// info snapshots the process. Caller holds the supervisor lock.
func (mp *ManagedProcess) info() ProcessInfo {
	pi := ProcessInfo{
		Name:     mp.name,
		State:    mp.state,
		ExitCode: -1,
	}
	if mp.handle != nil {
		pi.Pid = mp.handle.Pid()
		pi.Uptime = mp.handle.Uptime()
		pi.ExitCode = mp.handle.ExitCode()
	}
	return pi
}

// alive reports liveness of the underlying process. Safe on an unspawned
// entry.
func (mp *ManagedProcess) alive() bool {
	return mp.handle.Alive()
}
