package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-backend-launcher/internal/parser"
	"github.com/randomizedcoder/go-backend-launcher/internal/readiness"
)

// child is the handle of one running backend process.
type child struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time

	detector *readiness.Detector
	marker   chan struct{} // closed on the detector edge

	exited   chan struct{} // closed after cmd.Wait returns
	exitCode int
	waitErr  error

	// Stop bookkeeping, touched only under the lifecycle lock.
	termSent time.Time
	killSent bool

	stdoutPipeline *parser.Pipeline
	stderrPipeline *parser.Pipeline
}

// streams configures how child output is consumed.
type streams struct {
	stdoutParser  parser.LineParser
	stderrParser  parser.LineParser
	onDiagnostic  func(line string)
	bufferSize    int
	dropThreshold float64
	logger        *slog.Logger
}

// spawn starts cmd in its own process group and wires its pipes.
// Stdout lines go to the detector first, synchronously, then to the lossy
// stdout pipeline. Stderr lines go only through the lossy stderr pipeline.
func spawn(cmd *exec.Cmd, detector *readiness.Detector, st streams) (*child, error) {
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	c := &child{
		cmd:            cmd,
		detector:       detector,
		marker:         make(chan struct{}),
		exited:         make(chan struct{}),
		exitCode:       -1,
		stdoutPipeline: parser.NewPipeline("stdout", st.bufferSize, st.dropThreshold),
		stderrPipeline: parser.NewPipeline("stderr", st.bufferSize, st.dropThreshold),
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	c.pid = cmd.Process.Pid
	c.started = time.Now()

	markerSink := parser.LineParserFunc(func(line string) {
		if detector.Feed(line + "\n") {
			close(c.marker)
		}
	})

	stdoutReader := parser.NewPipeReader(stdout, markerSink, c.stdoutPipeline)
	stderrReader := parser.NewPipeReader(stderr, c.stderrPipeline)

	// Readers must hit EOF before Wait closes the pipes.
	var readWg sync.WaitGroup
	readWg.Add(2)
	go func() {
		defer readWg.Done()
		stdoutReader.Run()
		c.stdoutPipeline.CloseChannel()
	}()
	go func() {
		defer readWg.Done()
		stderrReader.Run()
		c.stderrPipeline.CloseChannel()
	}()

	var parseWg sync.WaitGroup
	parseWg.Add(2)
	go func() {
		defer parseWg.Done()
		c.stdoutPipeline.RunParser(st.stdoutParser)
	}()
	go func() {
		defer parseWg.Done()
		c.stderrPipeline.RunParser(parser.LineParserFunc(func(line string) {
			st.stderrParser.ParseLine(line)
			if st.onDiagnostic != nil {
				st.onDiagnostic(line)
			}
		}))
	}()

	go func() {
		readWg.Wait()
		c.waitErr = cmd.Wait()
		c.exitCode = extractExitCode(c.waitErr)
		close(c.exited)

		parseWg.Wait()
		logPipelineStats(st.logger, c.pid, c.stdoutPipeline, c.stderrPipeline)
	}()

	return c, nil
}

// hasExited reports whether the exit has been observed, without blocking.
func (c *child) hasExited() bool {
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

// logPipelineStats logs pipeline health once both streams are drained.
func logPipelineStats(logger *slog.Logger, pid int, pipelines ...*parser.Pipeline) {
	for _, p := range pipelines {
		read, dropped, parsed := p.Stats()
		if dropped == 0 && !logger.Enabled(context.Background(), slog.LevelDebug) {
			continue
		}
		logger.Info("pipeline_stats",
			"pid", pid,
			"stream", p.StreamType(),
			"lines_read", read,
			"lines_dropped", dropped,
			"lines_parsed", parsed,
			"degraded", p.IsDegraded(),
		)
	}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}

	// Unknown error, assume exit code 1
	return 1
}
