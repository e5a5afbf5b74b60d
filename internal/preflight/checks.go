// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name    string // Name of the check
	Passed  bool   // Whether the check passed
	Warning bool   // True if it's a warning (non-fatal)
	Message string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
// backendExec and frontendExec are the executables of the two service
// commands; frontendPort is checked for availability unless the backend
// is already serving (an occupied port would then be expected).
func RunAll(backendExec, frontendExec string, frontendPort int, backendExternal bool) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	for _, c := range []Check{
		checkExecutable("backend_executable", backendExec),
		checkExecutable("frontend_executable", frontendExec),
	} {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	if !backendExternal {
		portCheck := checkPortFree("frontend_port", frontendPort)
		result.Checks = append(result.Checks, portCheck)
		if !portCheck.Passed {
			result.Passed = false
		}
	}

	// FD headroom is a warning only; two children plus pipes is modest
	result.Checks = append(result.Checks, checkFileDescriptors())

	return result
}

// checkExecutable verifies the executable can be resolved.
func checkExecutable(name, executable string) Check {
	path, err := exec.LookPath(executable)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("%s not found: %v", executable, err),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkPortFree verifies nothing is already listening on the port.
func checkPortFree(name string, port int) Check {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("port %d is already in use", port),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("port %d is free", port),
	}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Two children with output pipes, probes, and the metrics server
	const required = 64
	actual := int(limit.Cur)

	return Check{
		Name:    "file_descriptors",
		Passed:  true,
		Warning: actual < required,
		Message: fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "backend_executable", "frontend_executable":
		return "install the interpreter/runtime or set -backend-cmd / -frontend-cmd"
	case "frontend_port":
		return "stop the process holding the port or change -frontend-port"
	default:
		return "see documentation"
	}
}
