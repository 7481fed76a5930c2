package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent stderr lines kept for the
	// failure surface and exit summary.
	MaxBufferedLines = 100
)

// StderrHandler logs backend stderr ("BACKEND ERROR:" in the console echo)
// and keeps the most recent lines in a ring buffer.
type StderrHandler struct {
	logger  *slog.Logger
	verbose bool

	buffer []string
	bufIdx int
	total  int
	mu     sync.Mutex
}

// NewStderrHandler creates a stderr handler.
func NewStderrHandler(logger *slog.Logger, verbose bool) *StderrHandler {
	return &StderrHandler{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// ParseLine lets the handler sit behind a parser.Pipeline.
func (h *StderrHandler) ParseLine(line string) {
	h.HandleLine(line)
}

// HandleLine processes a single line of stderr output.
func (h *StderrHandler) HandleLine(line string) {
	line = truncate(line)

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.mu.Unlock()

	level := classifyLine(line)
	if !h.verbose && level == slog.LevelDebug {
		return
	}
	h.logger.Log(context.Background(), level, "backend_stderr", "line", line)
}

// classifyLine maps JVM stderr content to a log level.
func classifyLine(line string) slog.Level {
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(trimmed, "at ") || strings.HasPrefix(trimmed, "... "):
		// Stack frames follow the exception line that was already logged.
		return slog.LevelDebug
	case strings.Contains(line, "Exception"),
		strings.Contains(line, "Error:"),
		strings.Contains(line, "ERROR"),
		strings.HasPrefix(trimmed, "Caused by"):
		return slog.LevelWarn
	case strings.Contains(line, "WARN"):
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *StderrHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n > h.total {
		n = h.total
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// Total returns the number of lines seen.
func (h *StderrHandler) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Reset clears the buffer between launches.
func (h *StderrHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.buffer {
		h.buffer[i] = ""
	}
	h.bufIdx = 0
	h.total = 0
}

// ErrorPatterns are common JVM startup problems counted for the exit summary.
var ErrorPatterns = []string{
	"Address already in use",
	"BindException",
	"ClassNotFoundException",
	"UnsupportedClassVersionError",
	"OutOfMemoryError",
	"Unable to access jarfile",
	"Caused by",
	"Exception",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *StderrHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}

// StdoutEcho logs every backend stdout line ("BACKEND:" in the console echo).
type StdoutEcho struct {
	logger *slog.Logger
	level  slog.Level
}

// NewStdoutEcho creates an echo sink. Lines are logged at info when verbose
// and at debug otherwise.
func NewStdoutEcho(logger *slog.Logger, verbose bool) *StdoutEcho {
	level := slog.LevelDebug
	if verbose {
		level = slog.LevelInfo
	}
	return &StdoutEcho{logger: logger, level: level}
}

// ParseLine logs line.
func (e *StdoutEcho) ParseLine(line string) {
	e.logger.Log(context.Background(), e.level, "backend_stdout", "line", truncate(line))
}

func truncate(line string) string {
	if len(line) > MaxLineLength {
		return line[:MaxLineLength] + "...(truncated)"
	}
	return line
}
