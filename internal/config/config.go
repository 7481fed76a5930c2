// Package config provides configuration types and layered loading for
// go-backend-launcher.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds all configuration for the launcher.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// LAUNCHER_* environment variables, then command-line flags.
type Config struct {
	// Backend
	JavaPath string   `json:"java_path" koanf:"java_path"`
	JarPath  string   `json:"jar_path" koanf:"jar_path"`
	Layout   string   `json:"layout" koanf:"layout"` // "auto", "packaged", "development"
	BaseDir  string   `json:"base_dir" koanf:"base_dir"`
	JVMArgs  []string `json:"jvm_args" koanf:"jvm_args"`
	AppArgs  []string `json:"app_args" koanf:"app_args"`
	Env      []string `json:"env" koanf:"env"`
	Command  []string `json:"command" koanf:"command"` // replaces "java -jar" entirely

	// Health
	HealthMode    string        `json:"health_mode" koanf:"health_mode"` // "http" or "tcp"
	HealthHost    string        `json:"health_host" koanf:"health_host"`
	HealthPort    int           `json:"health_port" koanf:"health_port"`
	HealthPath    string        `json:"health_path" koanf:"health_path"`
	HealthTimeout time.Duration `json:"health_timeout" koanf:"health_timeout"`

	// Readiness
	Markers      []string `json:"markers" koanf:"markers"`
	MarkerBuffer int      `json:"marker_buffer" koanf:"marker_buffer"`

	// Timing
	SettleDelay    time.Duration `json:"settle_delay" koanf:"settle_delay"`
	PollInterval   time.Duration `json:"poll_interval" koanf:"poll_interval"`
	StartupTimeout time.Duration `json:"startup_timeout" koanf:"startup_timeout"`
	StopGrace      time.Duration `json:"stop_grace" koanf:"stop_grace"`

	// Presentation
	TUIEnabled bool `json:"tui" koanf:"tui"`
	KeepAlive  bool `json:"keep_alive" koanf:"keep_alive"`

	// Observability
	MetricsAddr string `json:"metrics_addr" koanf:"metrics_addr"`
	MetricsDump string `json:"metrics_dump" koanf:"metrics_dump"`
	Verbose     bool   `json:"verbose" koanf:"verbose"`
	LogFormat   string `json:"log_format" koanf:"log_format"`
	LogLevel    string `json:"log_level" koanf:"log_level"`
	LogFile     string `json:"log_file" koanf:"log_file"`

	// Diagnostics
	PrintCmd      bool   `json:"print_cmd" koanf:"print_cmd"`
	Check         bool   `json:"check" koanf:"check"`
	SkipPreflight bool   `json:"skip_preflight" koanf:"skip_preflight"`
	LockFile      string `json:"lock_file" koanf:"lock_file"`

	// Set by flags only.
	ConfigFile  string `json:"-" koanf:"-"`
	ShowVersion bool   `json:"-" koanf:"-"`
}

// Defaults used by DefaultConfig and shown in -help.
const (
	DefaultHealthHost     = "127.0.0.1"
	DefaultHealthPort     = 8080
	DefaultHealthPath     = "/"
	DefaultHealthTimeout  = 1 * time.Second
	DefaultMarkerBuffer   = 8192
	DefaultSettleDelay    = 3 * time.Second
	DefaultPollInterval   = 1 * time.Second
	DefaultStartupTimeout = 30 * time.Second
	DefaultStopGrace      = 5 * time.Second
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Backend
		Layout: "auto",

		// Health
		HealthMode:    "http",
		HealthHost:    DefaultHealthHost,
		HealthPort:    DefaultHealthPort,
		HealthPath:    DefaultHealthPath,
		HealthTimeout: DefaultHealthTimeout,

		// Readiness
		MarkerBuffer: DefaultMarkerBuffer,

		// Timing
		SettleDelay:    DefaultSettleDelay,
		PollInterval:   DefaultPollInterval,
		StartupTimeout: DefaultStartupTimeout,
		StopGrace:      DefaultStopGrace,

		// Presentation
		TUIEnabled: true,
		KeepAlive:  runtime.GOOS == "darwin",

		// Observability
		LogFormat: "json",
		LogLevel:  "info",

		// Diagnostics
		LockFile: filepath.Join(os.TempDir(), "go-backend-launcher.lock"),
	}
}
