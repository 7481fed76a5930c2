// Package process builds the command line for the supervised backend.
package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Builder creates the backend command.
// This interface allows the supervisor to be process-agnostic.
type Builder interface {
	// BuildCommand returns a ready-to-start command.
	// The command should NOT be started yet.
	BuildCommand(ctx context.Context) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

// CommandBuilder runs an arbitrary executable. It is used when the
// configuration overrides the java command line.
type CommandBuilder struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// NewCommandBuilder creates a builder for argv.
func NewCommandBuilder(argv []string, dir string, env []string) *CommandBuilder {
	b := &CommandBuilder{Dir: dir, Env: env}
	if len(argv) > 0 {
		b.Path = argv[0]
		b.Args = argv[1:]
	}
	return b
}

// Name returns the base name of the executable.
func (b *CommandBuilder) Name() string {
	if i := strings.LastIndexAny(b.Path, `/\`); i >= 0 {
		return b.Path[i+1:]
	}
	return b.Path
}

// BuildCommand creates the exec.Cmd.
func (b *CommandBuilder) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	if b.Path == "" {
		return nil, fmt.Errorf("empty backend command: %w", exec.ErrNotFound)
	}
	cmd := exec.CommandContext(ctx, b.Path, b.Args...)
	cmd.Dir = b.Dir
	if len(b.Env) > 0 {
		cmd.Env = append(os.Environ(), b.Env...)
	}
	return cmd, nil
}

// CommandString returns the command that would be executed (for debugging).
func (b *CommandBuilder) CommandString() string {
	return joinCommand(b.Path, b.Args)
}

// joinCommand quotes arguments containing whitespace so the printed command
// can be pasted into a shell.
func joinCommand(path string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{path}, args...) {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

var (
	_ Builder = (*CommandBuilder)(nil)
	_ Builder = (*BackendBuilder)(nil)
)
