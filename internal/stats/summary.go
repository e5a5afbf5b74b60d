// Package stats collects probe latency statistics and renders the exit
// summary shown when the launcher terminates.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// ProbeRecorder accumulates readiness probe latencies. Safe for
// concurrent use.
type ProbeRecorder struct {
	mu       sync.Mutex
	digest   *tdigest.TDigest
	attempts int
	max      time.Duration
}

// ProbeStats is a point-in-time snapshot of recorded probe latencies.
type ProbeStats struct {
	Attempts int
	P50      time.Duration
	P95      time.Duration
	P99      time.Duration
	Max      time.Duration
}

func NewProbeRecorder() *ProbeRecorder {
	return &ProbeRecorder{
		digest: tdigest.NewWithCompression(100),
	}
}

// Record adds one probe round-trip latency.
func (r *ProbeRecorder) Record(latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.digest.Add(latency.Seconds(), 1)
	r.attempts++
	if latency > r.max {
		r.max = latency
	}
}

// Snapshot returns the current percentiles. Percentiles are zero until at
// least one latency has been recorded.
func (r *ProbeRecorder) Snapshot() ProbeStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempts == 0 {
		return ProbeStats{}
	}

	return ProbeStats{
		Attempts: r.attempts,
		P50:      secondsToDuration(r.digest.Quantile(0.50)),
		P95:      secondsToDuration(r.digest.Quantile(0.95)),
		P99:      secondsToDuration(r.digest.Quantile(0.99)),
		Max:      r.max,
	}
}

func secondsToDuration(s float64) time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// ServiceSummary describes one managed service at exit time.
type ServiceSummary struct {
	Name     string
	State    string
	External bool
	PID      int
	Uptime   time.Duration
	ExitCode int
}

// BackendSummary carries request counters scraped from the backend's own
// metrics endpoint, when that scrape was enabled.
type BackendSummary struct {
	RequestsTotal float64
	RequestRate   float64
}

// SummaryConfig holds everything the exit summary renders.
type SummaryConfig struct {
	Duration    time.Duration
	Phase       string
	Reason      string
	BackendURL  string
	FrontendURL string
	MetricsAddr string
	Services    []ServiceSummary
	Probe       ProbeStats
	Backend     *BackendSummary

	// Errors maps service name to counted error patterns extracted from
	// its captured output.
	Errors map[string]map[string]int
}

const summaryRule = "═══════════════════════════════════════════════════════════════════════════════\n"
const sectionRule = "───────────────────────────────────────────────────────────────────────────────\n"

// FormatExitSummary formats the run summary for display at program exit.
func FormatExitSummary(cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(summaryRule)
	b.WriteString("                             stackup Exit Summary\n")
	b.WriteString(summaryRule)
	b.WriteString("\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Final Phase:            %s\n", cfg.Phase)
	if cfg.Reason != "" {
		fmt.Fprintf(&b, "Reason:                 %s\n", cfg.Reason)
	}
	b.WriteString("\n")

	if len(cfg.Services) > 0 {
		b.WriteString(sectionRule)
		b.WriteString("                                  Services\n")
		b.WriteString(sectionRule)
		b.WriteString("\n")

		fmt.Fprintf(&b, "  %-12s %-12s %8s %12s %10s\n", "Service", "State", "PID", "Uptime", "Exit Code")
		b.WriteString("  " + strings.Repeat("─", 58) + "\n")
		for _, svc := range cfg.Services {
			if svc.External {
				fmt.Fprintf(&b, "  %-12s %-12s %8s %12s %10s\n", svc.Name, "external", "-", "-", "-")
				continue
			}
			pid := "-"
			if svc.PID > 0 {
				pid = fmt.Sprintf("%d", svc.PID)
			}
			exit := "-"
			if svc.ExitCode >= 0 {
				exit = fmt.Sprintf("%d %s", svc.ExitCode, exitCodeLabel(svc.ExitCode))
			}
			fmt.Fprintf(&b, "  %-12s %-12s %8s %12s %10s\n",
				svc.Name, svc.State, pid, FormatDuration(svc.Uptime), exit)
		}
		b.WriteString("\n")
	}

	if cfg.Probe.Attempts > 0 {
		b.WriteString(sectionRule)
		b.WriteString("                             Readiness Probing\n")
		b.WriteString(sectionRule)
		b.WriteString("\n")

		fmt.Fprintf(&b, "  Attempts:             %d\n", cfg.Probe.Attempts)
		fmt.Fprintf(&b, "  Latency P50:          %s\n", FormatMs(cfg.Probe.P50))
		fmt.Fprintf(&b, "  Latency P95:          %s\n", FormatMs(cfg.Probe.P95))
		fmt.Fprintf(&b, "  Latency P99:          %s\n", FormatMs(cfg.Probe.P99))
		fmt.Fprintf(&b, "  Latency Max:          %s\n", FormatMs(cfg.Probe.Max))
		b.WriteString("\n")
	}

	if errorLines := formatErrorCounts(cfg); len(errorLines) > 0 {
		b.WriteString(sectionRule)
		b.WriteString("                              Captured Errors\n")
		b.WriteString(sectionRule)
		b.WriteString("\n")

		for _, line := range errorLines {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	if cfg.Backend != nil {
		b.WriteString(sectionRule)
		b.WriteString("                              Backend Traffic\n")
		b.WriteString(sectionRule)
		b.WriteString("\n")

		fmt.Fprintf(&b, "  Requests Served:      %.0f\n", cfg.Backend.RequestsTotal)
		fmt.Fprintf(&b, "  Request Rate:         %.1f/s\n", cfg.Backend.RequestRate)
		b.WriteString("\n")
	}

	if cfg.BackendURL != "" {
		fmt.Fprintf(&b, "Backend was:  %s\n", cfg.BackendURL)
	}
	if cfg.FrontendURL != "" {
		fmt.Fprintf(&b, "Frontend was: %s\n", cfg.FrontendURL)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(summaryRule)

	return b.String()
}

// formatErrorCounts renders per-service error pattern counts, services in
// summary order and patterns sorted for stable output.
func formatErrorCounts(cfg SummaryConfig) []string {
	var lines []string
	for _, svc := range cfg.Services {
		counts := cfg.Errors[svc.Name]
		if len(counts) == 0 {
			continue
		}
		patterns := make([]string, 0, len(counts))
		for p := range counts {
			patterns = append(patterns, p)
		}
		sort.Strings(patterns)

		lines = append(lines, fmt.Sprintf("  %s:\n", svc.Name))
		for _, p := range patterns {
			lines = append(lines, fmt.Sprintf("    %-28s %d\n", p, counts[p]))
		}
	}
	return lines
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
