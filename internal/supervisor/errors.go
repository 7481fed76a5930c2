package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn means the backend executable could not be started.
	ErrSpawn = errors.New("failed to spawn backend")

	// ErrPrematureExit means the backend exited before it became ready.
	ErrPrematureExit = errors.New("backend exited before becoming ready")

	// ErrStartupTimeout means the backend was not reachable before the
	// startup deadline.
	ErrStartupTimeout = errors.New("backend failed to start within timeout period")

	// ErrStartCancelled means Stop was called while startup was pending.
	ErrStartCancelled = errors.New("backend startup cancelled")

	// ErrBackendCrashed means the backend exited after becoming ready.
	ErrBackendCrashed = errors.New("backend exited unexpectedly")

	// ErrAlreadyActive is returned by Start while a backend is running.
	ErrAlreadyActive = errors.New("backend already active")

	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// StartupError describes why the backend did not become ready, or why it
// went away afterwards. Kind is one of the sentinel errors above.
type StartupError struct {
	Kind     error
	ExitCode int // -1 when the process never ran or has not exited
	Err      error
}

func newStartupError(kind error, exitCode int, err error) *StartupError {
	return &StartupError{Kind: kind, ExitCode: exitCode, Err: err}
}

func (e *StartupError) Error() string {
	msg := e.Kind.Error()
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error kind so callers can use errors.Is(err, ErrSpawn).
func (e *StartupError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause, if any.
func (e *StartupError) Unwrap() error {
	return e.Err
}

// ExitCodeOf returns the exit code carried by err, or -1.
func ExitCodeOf(err error) int {
	var se *StartupError
	if errors.As(err, &se) {
		return se.ExitCode
	}
	return -1
}
