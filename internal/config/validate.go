package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.BackendCmd) == "" {
		errs = append(errs, ValidationError{
			Field:   "backend_cmd",
			Message: "backend launch command is required",
		})
	}
	if strings.TrimSpace(cfg.FrontendCmd) == "" {
		errs = append(errs, ValidationError{
			Field:   "frontend_cmd",
			Message: "frontend launch command is required",
		})
	}

	if err := validateURL(cfg.BackendBaseURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "backend_url",
			Message: err.Error(),
		})
	}
	if !strings.HasPrefix(cfg.BackendHealthPath, "/") {
		errs = append(errs, ValidationError{
			Field:   "health_path",
			Message: fmt.Sprintf("must start with / (got %q)", cfg.BackendHealthPath),
		})
	}
	if cfg.BackendMetricsURL != "" {
		if err := validateURL(cfg.BackendMetricsURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "backend_metrics",
				Message: err.Error(),
			})
		}
	}
	if cfg.FrontendHealthURL != "" {
		if err := validateURL(cfg.FrontendHealthURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "frontend_health_url",
				Message: err.Error(),
			})
		}
	}

	if cfg.FrontendPort < 1 || cfg.FrontendPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "frontend_port",
			Message: fmt.Sprintf("must be 1-65535 (got %d)", cfg.FrontendPort),
		})
	}

	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "probe_timeout",
			Message: "must be positive",
		})
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.PollAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "poll_attempts",
			Message: "must be at least 1",
		})
	}

	if cfg.GracePeriod <= 0 {
		errs = append(errs, ValidationError{
			Field:   "grace_period",
			Message: "must be positive",
		})
	}
	if cfg.MonitorInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "monitor_interval",
			Message: "must be positive",
		})
	}
	if cfg.FrontendSettle < 0 {
		errs = append(errs, ValidationError{
			Field:   "frontend_settle",
			Message: "must not be negative",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.BackendMetricsURL != "" && cfg.ScrapeInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scrape_interval",
			Message: "must be positive when backend metrics scraping is enabled",
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateURL checks if the URL is valid and uses http or https.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}

// ApplyCheckMode modifies config for -check mode: no processes are spawned,
// so the TUI and metrics server are forced off.
func ApplyCheckMode(cfg *Config) {
	cfg.TUIEnabled = false
	cfg.MetricsAddr = ""
	cfg.Verbose = true
}
