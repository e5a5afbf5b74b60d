package supervisor

import "fmt"

// UnexpectedExitError indicates an owned process died outside the shutdown
// path while the supervisor was monitoring it.
type UnexpectedExitError struct {
	Service  string
	ExitCode int
}

func (e *UnexpectedExitError) Error() string {
	return fmt.Sprintf("%s exited unexpectedly (exit code %d)", e.Service, e.ExitCode)
}

// StartupError wraps a failure during the launch sequence, after which the
// supervisor has already terminated everything it owned.
type StartupError struct {
	Service string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup of %s failed: %v", e.Service, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }
