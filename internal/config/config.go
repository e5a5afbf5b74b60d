// Package config provides configuration management for stackup.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration options for the launcher.
type Config struct {
	// Backend service
	BackendCmd        string `json:"backend_cmd"`
	BackendBaseURL    string `json:"backend_base_url"`
	BackendHealthPath string `json:"backend_health_path"`
	BackendMetricsURL string `json:"backend_metrics_url"` // "" = scraping disabled

	// Frontend service
	FrontendCmd       string        `json:"frontend_cmd"`
	FrontendAddr      string        `json:"frontend_addr"`
	FrontendPort      int           `json:"frontend_port"`
	FrontendHealthURL string        `json:"frontend_health_url"` // "" = settle delay instead
	FrontendSettle    time.Duration `json:"frontend_settle"`

	// Readiness polling
	ProbeTimeout time.Duration `json:"probe_timeout"`
	PollInterval time.Duration `json:"poll_interval"`
	PollAttempts int           `json:"poll_attempts"`

	// Shutdown
	GracePeriod     time.Duration `json:"grace_period"`
	MonitorInterval time.Duration `json:"monitor_interval"`

	// Observability
	MetricsAddr    string        `json:"metrics_addr"` // "" = server disabled
	ScrapeInterval time.Duration `json:"scrape_interval"`
	Verbose        bool          `json:"verbose"`
	LogFormat      string        `json:"log_format"` // json, text

	// Dashboard
	TUIEnabled bool `json:"tui"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
// Command lines and timings match the fraud-detection stack this launcher
// was built for: FastAPI backend on :8001, Streamlit dashboard on :8501.
func DefaultConfig() *Config {
	return &Config{
		// Backend
		BackendCmd:        "python3 src/api/main.py",
		BackendBaseURL:    "http://localhost:8001",
		BackendHealthPath: "/health",

		// Frontend
		FrontendCmd: "python3 -m streamlit run streamlit_app.py " +
			"--server.port=8501 --server.address=0.0.0.0 --server.headless=true",
		FrontendAddr:   "0.0.0.0",
		FrontendPort:   8501,
		FrontendSettle: 3 * time.Second,

		// Readiness polling
		ProbeTimeout: 3 * time.Second,
		PollInterval: 1 * time.Second,
		PollAttempts: 15,

		// Shutdown
		GracePeriod:     5 * time.Second,
		MonitorInterval: 1 * time.Second,

		// Observability
		MetricsAddr:    "", // Disabled unless requested
		ScrapeInterval: 2 * time.Second,
		Verbose:        false,
		LogFormat:      "json",

		// Dashboard
		TUIEnabled: false,
	}
}

// HealthURL returns the full backend health endpoint URL.
func (c *Config) HealthURL() string {
	return c.BackendBaseURL + c.BackendHealthPath
}

// FrontendURL returns the user-facing dashboard URL.
func (c *Config) FrontendURL() string {
	host := c.FrontendAddr
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.FrontendPort)
}
