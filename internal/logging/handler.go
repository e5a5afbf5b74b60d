package logging

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of lines to buffer per service.
	MaxBufferedLines = 100
)

// OutputHandler handles stdout/stderr output from a managed service.
// It buffers recent lines for the exit summary and TUI, and logs them.
type OutputHandler struct {
	service string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a new output handler for a service.
func NewOutputHandler(service string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		service: service,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleReader reads from an io.Reader and processes each line.
// This should be run in a goroutine; it returns when the reader is closed.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// HandleLine processes a single line of service output.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

// logLine logs the line at appropriate level based on content.
func (h *OutputHandler) logLine(line string) {
	level := h.classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(nil, level, "service_output",
		"service", h.service,
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
// Patterns cover uvicorn/FastAPI and Streamlit output.
func (h *OutputHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "traceback") ||
		strings.Contains(lower, "error") ||
		strings.Contains(lower, "exception") ||
		strings.Contains(lower, "connection refused") {
		return slog.LevelWarn
	}

	if strings.Contains(lower, "warning") ||
		strings.Contains(lower, "deprecat") {
		return slog.LevelWarn
	}

	// Per-request access logs are noise unless verbose
	if strings.Contains(lower, "http/1.1") ||
		strings.Contains(lower, "get /") ||
		strings.Contains(lower, "post /") {
		return slog.LevelDebug
	}

	return slog.LevelDebug
}

// RecentLines returns the most recent lines from the buffer, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// ErrorPatterns are common failure patterns to extract for the exit summary.
var ErrorPatterns = []string{
	"Traceback",
	"Connection refused",
	"Address already in use",
	"ModuleNotFoundError",
	"ImportError",
	"OperationalError",
	"timeout",
	"500",
	"503",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
