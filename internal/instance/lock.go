// Package instance keeps a single launcher running per lock file.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another launcher instance is running")

// Lock is a held single-instance lock.
type Lock struct {
	path    string
	pidPath string
	fl      *flock.Flock
}

// Acquire takes the lock at path without blocking. The holder's PID is
// written next to it so a second instance can report who owns it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		if pid := HolderPID(path); pid > 0 {
			return nil, fmt.Errorf("%w (pid %d, lock %s)", ErrAlreadyRunning, pid, path)
		}
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}

	l := &Lock{path: path, pidPath: pidFile(path), fl: fl}
	if err := os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return l, nil
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || !l.fl.Locked() {
		return nil
	}
	_ = os.Remove(l.pidPath) // best-effort
	return l.fl.Unlock()
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// HolderPID returns the PID recorded by the current holder, or 0.
func HolderPID(path string) int {
	data, err := os.ReadFile(pidFile(path))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func pidFile(path string) string {
	return path + ".pid"
}
