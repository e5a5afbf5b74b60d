// Package process provides abstractions for spawning and terminating
// managed child processes.
package process

import (
	"fmt"
	"os/exec"
	"strings"
)

// Spec describes how to launch one managed service.
// Command lines are split on whitespace; shell quoting is not supported.
type Spec struct {
	// Name identifies the service ("backend", "frontend").
	Name string

	// Argv is the executable followed by its arguments.
	Argv []string
}

// ParseCommand builds a Spec from a service name and a command line.
func ParseCommand(name, cmdline string) (*Spec, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%s: empty command", name)
	}
	return &Spec{Name: name, Argv: argv}, nil
}

// BuildCommand returns a ready-to-start command.
// The command is NOT started yet.
func (s *Spec) BuildCommand() *exec.Cmd {
	return exec.Command(s.Argv[0], s.Argv[1:]...)
}

// Executable returns the executable path or name.
func (s *Spec) Executable() string {
	return s.Argv[0]
}

// String returns the command line for display.
func (s *Spec) String() string {
	return strings.Join(s.Argv, " ")
}
