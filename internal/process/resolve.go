package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Layout selects where the backend jar is looked up.
type Layout string

const (
	// LayoutAuto uses the packaged location when it exists and falls back
	// to the development location otherwise.
	LayoutAuto Layout = "auto"

	// LayoutPackaged looks next to the launcher executable.
	LayoutPackaged Layout = "packaged"

	// LayoutDevelopment looks relative to the working tree.
	LayoutDevelopment Layout = "development"
)

const (
	// PackagedJarPath is relative to the directory holding the executable.
	PackagedJarPath = "resources/app.asar.unpacked/backend/backend.jar"

	// DevelopmentJarPath is relative to the base directory (default: the
	// working directory).
	DevelopmentJarPath = "../../backend/backend.jar"
)

// ErrJarNotFound is returned when no backend jar exists at the resolved path.
var ErrJarNotFound = errors.New("backend jar not found")

// executable is replaced in tests.
var executable = os.Executable

// ResolveJar returns the absolute jar path for layout.
//
// The returned path may not exist for an explicit layout; callers that need
// the file (preflight) stat it themselves. LayoutAuto returns ErrJarNotFound
// when neither candidate exists.
func ResolveJar(layout Layout, baseDir string) (string, error) {
	packaged, err := packagedJar()
	if err != nil && layout == LayoutPackaged {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	development, err := developmentJar(baseDir)
	if err != nil && layout == LayoutDevelopment {
		return "", err
	}

	switch layout {
	case LayoutPackaged:
		return packaged, nil
	case LayoutDevelopment:
		return development, nil
	case LayoutAuto, "":
		for _, p := range []string{packaged, development} {
			if p == "" {
				continue
			}
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				return p, nil
			}
		}
		return "", fmt.Errorf("%w: tried %s and %s", ErrJarNotFound, packaged, development)
	default:
		return "", fmt.Errorf("unknown layout %q", layout)
	}
}

func packagedJar() (string, error) {
	exe, err := executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), filepath.FromSlash(PackagedJarPath)), nil
}

func developmentJar(baseDir string) (string, error) {
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		baseDir = wd
	}
	return filepath.Abs(filepath.Join(baseDir, filepath.FromSlash(DevelopmentJarPath)))
}

// ResolveJava returns the java binary to run.
// An explicit path wins; otherwise $JAVA_HOME/bin/java is used when it
// exists, falling back to "java" in PATH.
func ResolveJava(explicit string, getenv func(string) string) string {
	if explicit != "" {
		return explicit
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if home := getenv("JAVA_HOME"); home != "" {
		name := "java"
		if runtime.GOOS == "windows" {
			name = "java.exe"
		}
		candidate := filepath.Join(home, "bin", name)
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate
		}
	}
	return "java"
}

// JavaAvailable reports whether path resolves to an executable.
func JavaAvailable(path string) bool {
	_, err := exec.LookPath(path)
	return err == nil
}
