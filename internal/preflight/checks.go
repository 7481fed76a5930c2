// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
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

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options describes what to check.
type Options struct {
	// JavaPath and JarPath are the resolved launch targets. JarErr is the
	// resolution error, if any.
	JavaPath string
	JarPath  string
	JarErr   error

	// Command, when set, replaces java and the jar.
	Command []string

	// HealthAddr is host:port of the health endpoint.
	HealthAddr string
}

// minFileDescriptors is what a JVM backend with a modest connection pool
// needs on top of the launcher.
const minFileDescriptors = 256

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	if len(opts.Command) > 0 {
		add(checkCommand(opts.Command[0]))
	} else {
		add(checkJava(opts.JavaPath))
		add(checkJar(opts.JarPath, opts.JarErr))
	}

	add(checkFileDescriptors(minFileDescriptors))

	// Port check is a warning only
	add(checkHealthPort(opts.HealthAddr))

	return result
}

var javaVersionRe = regexp.MustCompile(`version "([^"]+)"`)

// checkJava verifies Java is available and working.
func checkJava(path string) Check {
	// java -version writes to stderr
	output, err := exec.Command(path, "-version").CombinedOutput()
	if err != nil {
		return Check{
			Name:    "java",
			Passed:  false,
			Message: fmt.Sprintf("not usable at %s: %v", path, err),
		}
	}

	// `openjdk version "17.0.9" 2023-10-17`
	version := "unknown"
	if m := javaVersionRe.FindSubmatch(output); m != nil {
		version = string(m[1])
	}

	return Check{
		Name:    "java",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, version),
	}
}

// checkJar verifies the backend jar exists.
func checkJar(path string, resolveErr error) Check {
	if resolveErr != nil {
		return Check{
			Name:    "backend_jar",
			Passed:  false,
			Message: resolveErr.Error(),
		}
	}

	info, err := os.Stat(path)
	switch {
	case err != nil:
		return Check{
			Name:    "backend_jar",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", path, err),
		}
	case info.IsDir():
		return Check{
			Name:    "backend_jar",
			Passed:  false,
			Message: fmt.Sprintf("%s is a directory", path),
		}
	}

	return Check{
		Name:    "backend_jar",
		Passed:  true,
		Message: fmt.Sprintf("%s (%d bytes)", path, info.Size()),
	}
}

// checkCommand verifies a custom backend executable can be found.
func checkCommand(name string) Check {
	path, err := exec.LookPath(name)
	if err != nil {
		return Check{
			Name:    "backend_command",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", name, err),
		}
	}
	return Check{
		Name:    "backend_command",
		Passed:  true,
		Message: "found at " + path,
	}
}

// checkHealthPort warns when something already listens on the health port.
// A foreign listener would answer the probe and report a false ready.
func checkHealthPort(addr string) Check {
	if addr == "" {
		return Check{
			Name:    "health_port",
			Passed:  true,
			Warning: true,
			Message: "no health address configured",
		}
	}

	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return Check{
			Name:    "health_port",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s already accepts connections (another backend running?)", addr),
		}
	}

	return Check{
		Name:    "health_port",
		Passed:  true,
		Message: addr + " is free",
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			if fix := suggestFix(check.Name); fix != "" {
				fmt.Fprintf(w, "    Fix: %s\n", fix)
			}
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n " + strconv.Itoa(minFileDescriptors*4) + " (or edit /etc/security/limits.conf)"
	case "java":
		return "install a JDK (apt install openjdk-17-jre / brew install openjdk) or set JAVA_HOME"
	case "backend_jar":
		return "build the backend, or pass -jar / -layout"
	case "backend_command":
		return "check the command path and its execute permission"
	case "health_port":
		return "stop the other process or choose -health-port"
	default:
		return ""
	}
}

// Summary returns the failed check names joined for an error message.
func (r *Result) Summary() string {
	var failed []string
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	return strings.Join(failed, ", ")
}
