package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables recognized before flag parsing. Flags win over
// environment, environment wins over built-in defaults.
const (
	EnvBackendURL   = "STACKUP_BACKEND_URL"
	EnvBackendCmd   = "STACKUP_BACKEND_CMD"
	EnvFrontendCmd  = "STACKUP_FRONTEND_CMD"
	EnvPollInterval = "STACKUP_POLL_INTERVAL"
	EnvPollAttempts = "STACKUP_POLL_ATTEMPTS"
	EnvGracePeriod  = "STACKUP_GRACE_PERIOD"
)

// ParseFlags parses command-line flags and returns a Config.
// Returns an error if arguments are invalid.
func ParseFlags() (*Config, error) {
	return parseFlags(os.Args[1:])
}

// parseFlags is the testable core of ParseFlags.
func parseFlags(args []string) (*Config, error) {
	cfg := DefaultConfig()
	applyEnv(cfg)

	fs := flag.NewFlagSet("stackup", flag.ContinueOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `stackup - launch and supervise the fraud-detection API and dashboard

Usage:
  stackup [flags]

Backend:
`)
		printFlagCategory(fs, []string{"backend-cmd", "backend-url", "health-path", "backend-metrics"})

		fmt.Fprintf(os.Stderr, "\nFrontend:\n")
		printFlagCategory(fs, []string{"frontend-cmd", "frontend-addr", "frontend-port", "frontend-health-url", "frontend-settle"})

		fmt.Fprintf(os.Stderr, "\nReadiness Polling:\n")
		printFlagCategory(fs, []string{"probe-timeout", "poll-interval", "poll-attempts"})

		fmt.Fprintf(os.Stderr, "\nShutdown:\n")
		printFlagCategory(fs, []string{"grace-period", "monitor-interval"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory(fs, []string{"metrics", "scrape-interval", "v", "log-format", "tui"})

		fmt.Fprintf(os.Stderr, "\nDiagnostics:\n")
		printFlagCategory(fs, []string{"print-cmd", "check", "skip-preflight"})

		fmt.Fprintf(os.Stderr, `
Environment:
  %s    Backend base URL (same as -backend-url)
  %s    Backend launch command
  %s   Frontend launch command
  %s  Readiness poll interval
  %s  Readiness poll attempt budget
  %s   Termination grace period

Examples:
  # Launch with defaults (API on :8001, dashboard on :8501)
  stackup

  # Point at an already-running backend elsewhere
  stackup -backend-url http://10.0.0.5:8001

  # Validate configuration and probe once without spawning anything
  stackup -check

`, EnvBackendURL, EnvBackendCmd, EnvFrontendCmd, EnvPollInterval, EnvPollAttempts, EnvGracePeriod)
	}

	// Backend
	fs.StringVar(&cfg.BackendCmd, "backend-cmd", cfg.BackendCmd, "Backend launch command")
	fs.StringVar(&cfg.BackendBaseURL, "backend-url", cfg.BackendBaseURL, "Backend base URL")
	fs.StringVar(&cfg.BackendHealthPath, "health-path", cfg.BackendHealthPath, "Backend health endpoint path")
	fs.StringVar(&cfg.BackendMetricsURL, "backend-metrics", cfg.BackendMetricsURL,
		"Backend Prometheus endpoint to scrape (e.g., http://localhost:8001/metrics). "+
			"If empty, backend metrics scraping is disabled.")

	// Frontend
	fs.StringVar(&cfg.FrontendCmd, "frontend-cmd", cfg.FrontendCmd, "Frontend launch command")
	fs.StringVar(&cfg.FrontendAddr, "frontend-addr", cfg.FrontendAddr, "Frontend serving address")
	fs.IntVar(&cfg.FrontendPort, "frontend-port", cfg.FrontendPort, "Frontend serving port")
	fs.StringVar(&cfg.FrontendHealthURL, "frontend-health-url", cfg.FrontendHealthURL,
		"Frontend health endpoint. If set, replaces the fixed settle delay with a real readiness poll.")
	fs.DurationVar(&cfg.FrontendSettle, "frontend-settle", cfg.FrontendSettle,
		"Settle delay after frontend spawn (used when no frontend health URL is available)")

	// Readiness polling
	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Timeout for a single readiness probe")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Interval between readiness probes")
	fs.IntVar(&cfg.PollAttempts, "poll-attempts", cfg.PollAttempts, "Maximum readiness probe attempts")

	// Shutdown
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod,
		"Wait after graceful termination request before force kill")
	fs.DurationVar(&cfg.MonitorInterval, "monitor-interval", cfg.MonitorInterval,
		"Interval between liveness checks in the monitoring loop")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr,
		"Prometheus metrics address (e.g., 0.0.0.0:17091). If empty, the metrics server is disabled.")
	fs.DurationVar(&cfg.ScrapeInterval, "scrape-interval", cfg.ScrapeInterval,
		"Interval for scraping backend metrics (with -backend-metrics)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print service commands and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Validate config, run preflight and one probe, then exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
// Malformed values are ignored in favor of existing defaults.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBackendURL); v != "" {
		cfg.BackendBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvBackendCmd); v != "" {
		cfg.BackendCmd = v
	}
	if v := os.Getenv(EnvFrontendCmd); v != "" {
		cfg.FrontendCmd = v
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv(EnvPollAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollAttempts = n
		}
	}
	if v := os.Getenv(EnvGracePeriod); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GracePeriod = d
		}
	}
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s\n    \t%s", f.Name, f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}
