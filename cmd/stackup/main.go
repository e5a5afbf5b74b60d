// Package main provides the stackup CLI entry point.
//
// stackup launches a two-service stack: a backend API process and the
// dashboard frontend that depends on it. The frontend is only started
// once the backend passes its readiness probe, both are monitored, and
// Ctrl+C tears the whole stack down in reverse order.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fraudstack/stackup/internal/config"
	"github.com/fraudstack/stackup/internal/launcher"
	"github.com/fraudstack/stackup/internal/logging"
	"github.com/fraudstack/stackup/internal/process"
	"github.com/fraudstack/stackup/internal/supervisor"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/stackup
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("stackup %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Handle -print-cmd mode
	if cfg.PrintCmd {
		printCommands(cfg)
		return 0
	}

	// Handle -check mode: validate and probe without spawning anything
	if cfg.Check {
		config.ApplyCheckMode(cfg)
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
		logging.SetDefault(logger)

		l, err := launcher.New(cfg, logger, version)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			return 1
		}
		if err := l.Check(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			return 1
		}
		fmt.Println("Check passed.")
		return 0
	}

	// Log startup
	logger.Info("starting",
		"version", version,
		"backend_url", cfg.BackendBaseURL,
		"frontend_url", cfg.FrontendURL(),
		"poll_attempts", cfg.PollAttempts,
		"grace_period", cfg.GracePeriod.String(),
		"metrics_addr", cfg.MetricsAddr,
	)

	l, err := launcher.New(cfg, logger, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	if err := l.Run(context.Background()); err != nil {
		logger.Error("launcher_failed", "error", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                             stackup                               ║")
	fmt.Println("║        Backend + Dashboard Launcher with Readiness Gating         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Backend:     %s\n", cfg.BackendBaseURL)
	fmt.Printf("  Frontend:    %s\n", cfg.FrontendURL())
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}

// printCommands prints the commands that would be spawned.
func printCommands(cfg *config.Config) {
	fmt.Println("# Commands that would be run:")
	fmt.Println()

	if spec, err := process.ParseCommand(supervisor.BackendName, cfg.BackendCmd); err == nil {
		fmt.Printf("# backend (readiness: %s)\n", cfg.HealthURL())
		fmt.Println(spec.String())
	}
	fmt.Println()
	if spec, err := process.ParseCommand(supervisor.FrontendName, cfg.FrontendCmd); err == nil {
		fmt.Printf("# frontend (%s)\n", cfg.FrontendURL())
		fmt.Println(spec.String())
	}
}
