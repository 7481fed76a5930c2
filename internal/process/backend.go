package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// BackendConfig holds configuration for the java backend process.
type BackendConfig struct {
	// JavaPath is the java binary. Empty means resolve via JAVA_HOME, then PATH.
	JavaPath string

	// JarPath is the backend jar. Empty means resolve via Layout.
	JarPath string

	// Layout controls jar resolution when JarPath is empty.
	Layout Layout

	// BaseDir anchors the development layout. Empty means the working directory.
	BaseDir string

	// JVMArgs are placed before -jar (e.g. -Xmx512m).
	JVMArgs []string

	// AppArgs are placed after the jar path.
	AppArgs []string

	// Env entries (KEY=VALUE) are appended to the launcher's environment.
	Env []string
}

// DefaultBackendConfig returns a BackendConfig with sensible defaults.
func DefaultBackendConfig() *BackendConfig {
	return &BackendConfig{
		Layout: LayoutAuto,
	}
}

// BackendBuilder implements Builder for `java -jar backend.jar`.
type BackendBuilder struct {
	config *BackendConfig
	getenv func(string) string
}

// NewBackendBuilder creates a builder with the given configuration.
func NewBackendBuilder(cfg *BackendConfig) *BackendBuilder {
	if cfg == nil {
		cfg = DefaultBackendConfig()
	}
	return &BackendBuilder{config: cfg, getenv: os.Getenv}
}

// Name returns "java".
func (b *BackendBuilder) Name() string {
	return "java"
}

// Config returns the backend configuration.
func (b *BackendBuilder) Config() *BackendConfig {
	return b.config
}

// Resolve returns the java binary and absolute jar path.
func (b *BackendBuilder) Resolve() (java, jar string, err error) {
	java = ResolveJava(b.config.JavaPath, b.getenv)

	if b.config.JarPath != "" {
		jar, err = filepath.Abs(b.config.JarPath)
		return java, jar, err
	}
	jar, err = ResolveJar(b.config.Layout, b.config.BaseDir)
	return java, jar, err
}

// BuildCommand creates the exec.Cmd. The working directory is the jar's
// directory so relative paths inside the backend resolve beside it.
func (b *BackendBuilder) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	java, jar, err := b.Resolve()
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, java, b.buildArgs(jar)...)
	cmd.Dir = filepath.Dir(jar)
	if len(b.config.Env) > 0 {
		cmd.Env = append(os.Environ(), b.config.Env...)
	}
	return cmd, nil
}

func (b *BackendBuilder) buildArgs(jar string) []string {
	args := make([]string, 0, len(b.config.JVMArgs)+len(b.config.AppArgs)+2)
	args = append(args, b.config.JVMArgs...)
	args = append(args, "-jar", jar)
	args = append(args, b.config.AppArgs...)
	return args
}

// CommandString returns the command that would be executed (for debugging).
// Resolution errors are reported in place of the jar path.
func (b *BackendBuilder) CommandString() string {
	java, jar, err := b.Resolve()
	if err != nil {
		jar = "<" + err.Error() + ">"
	}
	return joinCommand(java, b.buildArgs(jar))
}
