package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/randomizedcoder/go-backend-launcher/internal/logging"
	"github.com/randomizedcoder/go-backend-launcher/internal/readiness"
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
// Returns nil if valid, or an error joining every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// Layout must be known
	switch cfg.Layout {
	case "auto", "packaged", "development":
	default:
		errs = append(errs, ValidationError{
			Field:   "layout",
			Message: fmt.Sprintf("must be auto, packaged, or development (got %q)", cfg.Layout),
		})
	}

	// An explicit command replaces the jar, so both cannot be meant
	if len(cfg.Command) > 0 && cfg.JarPath != "" {
		errs = append(errs, ValidationError{
			Field:   "command",
			Message: "cannot be combined with jar_path",
		})
	}
	if len(cfg.Command) > 0 && strings.TrimSpace(cfg.Command[0]) == "" {
		errs = append(errs, ValidationError{
			Field:   "command",
			Message: "executable must not be empty",
		})
	}

	for _, e := range cfg.Env {
		if !strings.Contains(e, "=") {
			errs = append(errs, ValidationError{
				Field:   "env",
				Message: fmt.Sprintf("%q is not KEY=VALUE", e),
			})
		}
	}

	// Health endpoint
	switch cfg.HealthMode {
	case "http", "tcp":
	default:
		errs = append(errs, ValidationError{
			Field:   "health_mode",
			Message: fmt.Sprintf("must be http or tcp (got %q)", cfg.HealthMode),
		})
	}
	if cfg.HealthHost == "" {
		errs = append(errs, ValidationError{
			Field:   "health_host",
			Message: "must not be empty",
		})
	}
	if cfg.HealthPort < 1 || cfg.HealthPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "health_port",
			Message: "must be between 1 and 65535",
		})
	}
	if cfg.HealthMode == "http" && !strings.HasPrefix(cfg.HealthPath, "/") {
		errs = append(errs, ValidationError{
			Field:   "health_path",
			Message: "must start with /",
		})
	}

	// Markers must parse
	for _, m := range cfg.Markers {
		if _, err := readiness.ParseMarker(m); err != nil {
			errs = append(errs, ValidationError{
				Field:   "markers",
				Message: fmt.Sprintf("%q: %v", m, err),
			})
		}
	}
	if cfg.MarkerBuffer < 256 {
		errs = append(errs, ValidationError{
			Field:   "marker_buffer",
			Message: "must be at least 256",
		})
	}

	// Timeouts must be positive
	if cfg.HealthTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "health_timeout",
			Message: "must be positive",
		})
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.StartupTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "startup_timeout",
			Message: "must be positive",
		})
	}
	if cfg.StopGrace <= 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_grace",
			Message: "must be positive",
		})
	}
	if cfg.SettleDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "settle_delay",
			Message: "must not be negative",
		})
	}
	if cfg.StartupTimeout > 0 && cfg.SettleDelay >= cfg.StartupTimeout {
		errs = append(errs, ValidationError{
			Field:   "settle_delay",
			Message: fmt.Sprintf("must be shorter than startup_timeout (%s)", cfg.StartupTimeout),
		})
	}

	// Observability
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be json or text (got %q)", cfg.LogFormat),
		})
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn, or error (got %q)", cfg.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
