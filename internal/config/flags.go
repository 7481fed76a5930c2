package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// listFlag is a repeatable string flag. The first use on the command line
// replaces whatever lower layers supplied; later uses append.
type listFlag struct {
	target *[]string
	set    bool
}

func (l *listFlag) String() string {
	if l == nil || l.target == nil {
		return ""
	}
	return strings.Join(*l.target, ", ")
}

func (l *listFlag) Set(value string) error {
	if !l.set {
		*l.target = nil
		l.set = true
	}
	*l.target = append(*l.target, value)
	return nil
}

// newFlagSet binds every flag to a field of cfg. Current field values become
// the flag defaults, so -help shows the effective configuration.
func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("go-backend-launcher", flag.ContinueOnError)
	fs.SetOutput(output)

	// Backend
	fs.StringVar(&cfg.JavaPath, "java", cfg.JavaPath, "Java executable (default: $JAVA_HOME/bin/java, then java on PATH)")
	fs.StringVar(&cfg.JarPath, "jar", cfg.JarPath, "Backend jar path (overrides layout resolution)")
	fs.StringVar(&cfg.Layout, "layout", cfg.Layout, "Jar layout: auto, packaged, development")
	fs.StringVar(&cfg.BaseDir, "base-dir", cfg.BaseDir, "Base directory for the development layout (default: working directory)")
	fs.Var(&listFlag{target: &cfg.JVMArgs}, "jvm-arg", "JVM argument placed before -jar (repeatable)")
	fs.Var(&listFlag{target: &cfg.AppArgs}, "app-arg", "Argument passed to the backend after the jar (repeatable)")
	fs.Var(&listFlag{target: &cfg.Env}, "env", "Extra KEY=VALUE environment entry for the backend (repeatable)")

	// Health
	fs.StringVar(&cfg.HealthMode, "health-mode", cfg.HealthMode, "Health probe: http or tcp")
	fs.StringVar(&cfg.HealthHost, "health-host", cfg.HealthHost, "Health endpoint host")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "Health endpoint port")
	fs.StringVar(&cfg.HealthPath, "health-path", cfg.HealthPath, "Health endpoint path (http mode)")
	fs.DurationVar(&cfg.HealthTimeout, "health-timeout", cfg.HealthTimeout, "Timeout for a single probe")

	// Readiness
	fs.Var(&listFlag{target: &cfg.Markers}, "marker", "Readiness marker; join substrings with && to require all on one line (repeatable)")
	fs.IntVar(&cfg.MarkerBuffer, "marker-buffer", cfg.MarkerBuffer, "Bytes of recent stdout kept for marker matching")

	// Timing
	fs.DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "Delay between the readiness marker and the first probe")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Interval between health probes")
	fs.DurationVar(&cfg.StartupTimeout, "startup-timeout", cfg.StartupTimeout, "Total time allowed for startup")
	fs.DurationVar(&cfg.StopGrace, "stop-grace", cfg.StopGrace, "Grace period between SIGTERM and SIGKILL")

	// Presentation
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show the terminal UI (false: headless, log only)")
	fs.BoolVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "Keep the launcher dormant after windows close")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address, e.g. 127.0.0.1:17092 (empty: disabled)")
	fs.StringVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Write final metrics in text format to this file on exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging (debug level, backend stdout at info)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or text")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Append logs to this file")

	// Diagnostics
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file (also $"+ConfigPathEnvVar+")")
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the backend command and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Validate config and run preflight checks, then exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.StringVar(&cfg.LockFile, "lock-file", cfg.LockFile, "Single-instance lock file (empty: no lock)")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	fs.Usage = func() { printUsage(fs) }
	return fs
}

func printUsage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, `go-backend-launcher - start a Java backend, wait until it is ready, keep it supervised

Usage:
  go-backend-launcher [flags] [-- command args...]

A trailing command replaces "java -jar" entirely.

Backend:
`)
	printFlagCategory(fs, []string{"java", "jar", "layout", "base-dir", "jvm-arg", "app-arg", "env"})

	fmt.Fprintf(w, "\nHealth:\n")
	printFlagCategory(fs, []string{"health-mode", "health-host", "health-port", "health-path", "health-timeout"})

	fmt.Fprintf(w, "\nReadiness:\n")
	printFlagCategory(fs, []string{"marker", "marker-buffer"})

	fmt.Fprintf(w, "\nTiming:\n")
	printFlagCategory(fs, []string{"settle-delay", "poll-interval", "startup-timeout", "stop-grace"})

	fmt.Fprintf(w, "\nPresentation:\n")
	printFlagCategory(fs, []string{"tui", "keep-alive"})

	fmt.Fprintf(w, "\nObservability:\n")
	printFlagCategory(fs, []string{"metrics", "metrics-dump", "v", "log-format", "log-level", "log-file"})

	fmt.Fprintf(w, "\nDiagnostics:\n")
	printFlagCategory(fs, []string{"config", "print-cmd", "check", "skip-preflight", "lock-file", "version"})

	fmt.Fprintf(w, `
Environment:
  Every setting can be given as %sNAME, e.g. %sHEALTH_PORT=9090.
  List settings take comma-separated values.

Examples:
  # Packaged app, default markers and port
  go-backend-launcher

  # Development checkout with a custom port and marker
  go-backend-launcher -layout development -health-port 9090 -marker "Started && Application"

  # Show the command that would run
  go-backend-launcher -print-cmd

  # Any other executable as the backend
  go-backend-launcher -health-mode tcp -health-port 5432 -- ./run-db.sh
`, EnvPrefix, EnvPrefix)
}

func printFlagCategory(fs *flag.FlagSet, names []string) {
	w := fs.Output()
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	if _, ok := f.Value.(*listFlag); ok {
		return "value"
	}

	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := strconv.Atoi(f.DefValue); err == nil {
		return "int"
	}

	return "string"
}
