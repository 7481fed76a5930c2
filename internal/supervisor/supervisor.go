package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-backend-launcher/internal/health"
	"github.com/randomizedcoder/go-backend-launcher/internal/parser"
	"github.com/randomizedcoder/go-backend-launcher/internal/process"
	"github.com/randomizedcoder/go-backend-launcher/internal/readiness"
)

// Timings holds every delay used during startup and shutdown.
type Timings struct {
	// SettleDelay is waited after a readiness marker before the first probe.
	SettleDelay time.Duration

	// PollInterval separates an unreachable probe from the next attempt.
	PollInterval time.Duration

	// StartupTimeout is the overall deadline measured from launch.
	StartupTimeout time.Duration

	// StopGrace is how long to wait after SIGTERM before SIGKILL.
	StopGrace time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		SettleDelay:    3 * time.Second,
		PollInterval:   time.Second,
		StartupTimeout: 30 * time.Second,
		StopGrace:      5 * time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.SettleDelay < 0 {
		t.SettleDelay = 0
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.StartupTimeout <= 0 {
		t.StartupTimeout = d.StartupTimeout
	}
	if t.StopGrace <= 0 {
		t.StopGrace = d.StopGrace
	}
	return t
}

// Callbacks contains optional callback functions for supervisor events.
// They are called from supervisor goroutines and must not block.
type Callbacks struct {
	// OnStateChange is called after every applied transition.
	OnStateChange func(oldState, newState State)

	// OnStart is called when the backend process has been spawned.
	OnStart func(pid int)

	// OnExit is called once the backend process exit has been observed.
	OnExit func(exitCode int, uptime time.Duration)

	// OnDiagnostic receives each stderr line verbatim.
	OnDiagnostic func(line string)

	// OnCrash is called when a ready backend exits on its own.
	OnCrash func(err error)

	// OnForceKill is called before SIGKILL is sent.
	OnForceKill func(pid int)

	// OnPipelineStats reports the output pipeline counters of an exited
	// process, once per stream, before OnExit.
	OnPipelineStats func(stream string, read, dropped int64)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Builder   process.Builder
	Prober    health.Prober
	Logger    *slog.Logger
	Callbacks Callbacks
	Timings   Timings

	// Markers defaults to readiness.DefaultMarkers().
	Markers []readiness.Marker

	// MarkerBufferSize caps the rolling readiness buffer.
	MarkerBufferSize int

	// Output sinks (optional - defaults to NoopParser). They run behind a
	// lossy pipeline so a slow sink never blocks the backend.
	StdoutParser parser.LineParser
	StderrParser parser.LineParser

	PipelineBufferSize    int
	PipelineDropThreshold float64
}

// StopResult describes how the backend went away.
type StopResult struct {
	PID      int
	Forced   bool
	ExitCode int
	Duration time.Duration
}

// Supervisor owns the backend process: at most one child at a time, with a
// single supervision goroutine per launch.
type Supervisor struct {
	builder   process.Builder
	prober    health.Prober
	baseLog   *slog.Logger
	callbacks Callbacks
	timings   Timings

	markers          []readiness.Marker
	markerBufferSize int
	streams          streams

	// lifecycleMu serializes Start and Stop.
	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	state    State
	child    *child
	outcome  *Outcome
	logger   *slog.Logger
	launchID string
	launches int
	loopStop chan struct{}
	loopDone chan struct{}
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stdoutParser := cfg.StdoutParser
	if stdoutParser == nil {
		stdoutParser = parser.NoopParser{}
	}
	stderrParser := cfg.StderrParser
	if stderrParser == nil {
		stderrParser = parser.NoopParser{}
	}

	return &Supervisor{
		builder:          cfg.Builder,
		prober:           cfg.Prober,
		baseLog:          logger,
		logger:           logger,
		callbacks:        cfg.Callbacks,
		timings:          cfg.Timings.withDefaults(),
		markers:          cfg.Markers,
		markerBufferSize: cfg.MarkerBufferSize,
		streams: streams{
			stdoutParser:  stdoutParser,
			stderrParser:  stderrParser,
			onDiagnostic:  cfg.Callbacks.OnDiagnostic,
			bufferSize:    cfg.PipelineBufferSize,
			dropThreshold: cfg.PipelineDropThreshold,
			logger:        logger,
		},
		state: StateIdle,
	}
}

// Start spawns the backend and returns the outcome of this launch.
//
// Start returns as soon as the process is running; the outcome settles later.
// A spawn failure settles the outcome with ErrSpawn and is also returned
// directly. ctx bounds command construction only.
func (s *Supervisor) Start(ctx context.Context) (*Outcome, error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	state, c := s.state, s.child
	s.mu.Unlock()

	switch {
	case state == StateFailed && c == nil:
		// A failed launch whose process is gone can be retried.
		if err := s.transition(StateStopped); err != nil {
			return nil, err
		}
	case !state.CanLaunch():
		return nil, fmt.Errorf("%w: state %s", ErrAlreadyActive, state)
	}

	launchID := uuid.NewString()
	outcome := newOutcome()

	s.mu.Lock()
	s.launches++
	s.launchID = launchID
	s.logger = s.baseLog.With("launch_id", launchID)
	s.outcome = outcome
	logger := s.logger
	s.mu.Unlock()

	if err := s.transition(StateLaunching); err != nil {
		return nil, err
	}

	logger.Info("backend_launching", "builder", s.builder.Name())

	// The child must outlive ctx; only Stop ends it.
	cmd, err := s.builder.BuildCommand(context.WithoutCancel(ctx))
	if err != nil {
		return outcome, s.failSpawn(outcome, err)
	}

	detector := readiness.NewDetector(s.markers, s.markerBufferSize)
	c, err = spawn(cmd, detector, s.streams)
	if err != nil {
		return outcome, s.failSpawn(outcome, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	s.mu.Lock()
	s.child = c
	s.loopStop = stop
	s.loopDone = done
	s.mu.Unlock()

	logger.Info("backend_started",
		"pid", c.pid,
		"command", cmd.String(),
		"dir", cmd.Dir,
		"health", s.prober.Endpoint(),
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(c.pid)
	}

	go s.supervise(c, outcome, stop, done)

	return outcome, nil
}

func (s *Supervisor) failSpawn(outcome *Outcome, err error) error {
	serr := newStartupError(ErrSpawn, -1, err)
	s.log().Error("backend_spawn_failed", "error", err)
	_ = s.transition(StateFailed)
	outcome.settle(serr)
	return serr
}

// supervise owns every transition from Launching until startup settles and,
// after Ready, watches for a crash. It returns when stop is closed or the
// child's exit has been handled.
func (s *Supervisor) supervise(c *child, outcome *Outcome, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	logger := s.log()
	t := s.timings

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	defer cancelProbe()

	deadline := time.NewTimer(t.StartupTimeout)
	defer deadline.Stop()

	markerC := c.marker
	deadC := deadline.C
	results := make(chan bool, 1)
	var (
		settleC, pollC    <-chan time.Time
		settle, poll      *time.Timer
		probing, fallback bool
		attempts          int
	)
	stopTimers := func() {
		deadline.Stop()
		if settle != nil {
			settle.Stop()
		}
		if poll != nil {
			poll.Stop()
		}
		settleC, pollC, deadC = nil, nil, nil
		cancelProbe()
	}
	startProbe := func() {
		probing = true
		attempts++
		go func() { results <- s.prober.Check(probeCtx) }()
	}
	fail := func(kind error, exitCode int) {
		stopTimers()
		serr := newStartupError(kind, exitCode, nil)
		_ = s.transition(StateFailed)
		if outcome.settle(serr) {
			logger.Error("backend_startup_failed",
				"error", serr,
				"probe_attempts", attempts,
				"marker_seen", c.detector.Fired(),
			)
		}
	}
	prematureExit := func() {
		fail(ErrPrematureExit, c.exitCode)
		s.reap(c)
	}

	for !outcome.Settled() {
		select {
		case <-c.exited:
			prematureExit()
			return

		case <-stop:
			return

		case <-markerC:
			markerC = nil
			m, _ := c.detector.Matched()
			logger.Info("backend_readiness_marker", "marker", m.String(), "settle_delay", t.SettleDelay.String())
			if s.transition(StateAwaitingReadinessSignal) != nil {
				continue
			}
			settle = time.NewTimer(t.SettleDelay)
			settleC = settle.C

		case <-settleC:
			settleC = nil
			if s.transition(StatePollingHealth) == nil && !probing {
				startProbe()
			}

		case <-pollC:
			pollC = nil
			startProbe()

		case ok := <-results:
			probing = false
			if c.hasExited() {
				prematureExit()
				return
			}
			switch {
			case ok:
				stopTimers()
				if s.transition(StateReady) == nil && outcome.settle(nil) {
					logger.Info("backend_ready",
						"pid", c.pid,
						"startup", time.Since(c.started).String(),
						"probe_attempts", attempts,
						"fallback", fallback,
					)
				}
			case fallback:
				fail(ErrStartupTimeout, -1)
			default:
				logger.Debug("backend_probe_unreachable", "endpoint", s.prober.Endpoint(), "attempt", attempts)
				poll = time.NewTimer(t.PollInterval)
				pollC = poll.C
			}

		case <-deadC:
			deadC = nil
			// Exit wins over a simultaneous deadline.
			if c.hasExited() {
				prematureExit()
				return
			}
			if !c.detector.Fired() {
				logger.Warn("backend_no_readiness_marker", "timeout", t.StartupTimeout.String())
				fallback = true
				if s.transition(StatePollingHealth) == nil {
					startProbe()
					continue
				}
			}
			fail(ErrStartupTimeout, -1)
		}
	}

	if !outcome.Ready() {
		// Startup failed with the process still alive; only record its exit.
		select {
		case <-c.exited:
			s.reap(c)
		case <-stop:
		}
		return
	}

	select {
	case <-c.exited:
		_ = s.transition(StateFailed)
		err := newStartupError(ErrBackendCrashed, c.exitCode, nil)
		logger.Error("backend_crashed", "pid", c.pid, "exit_code", c.exitCode)
		s.reap(c)
		if s.callbacks.OnCrash != nil {
			s.callbacks.OnCrash(err)
		}
	case <-stop:
	}
}

// reap clears the handle of an exited child and reports the exit.
func (s *Supervisor) reap(c *child) {
	s.mu.Lock()
	if s.child == c {
		s.child = nil
	}
	s.mu.Unlock()

	uptime := time.Since(c.started)
	s.log().Info("backend_exited",
		"pid", c.pid,
		"exit_code", c.exitCode,
		"uptime", uptime.String(),
	)
	if s.callbacks.OnPipelineStats != nil {
		for _, p := range []*parser.Pipeline{c.stdoutPipeline, c.stderrPipeline} {
			read, dropped, _ := p.Stats()
			s.callbacks.OnPipelineStats(p.StreamType(), read, dropped)
		}
	}
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(c.exitCode, uptime)
	}
}

// Stop terminates the backend and returns once its exit has been observed.
//
// With no child Stop returns immediately. A pending startup is settled as
// ErrStartCancelled. SIGTERM goes to the process group; if the process is
// still alive after the grace period it is sent SIGKILL and Stop keeps
// waiting. If ctx ends first, Stop returns ctx.Err() and the state stays
// Stopping; calling Stop again resumes the sequence.
func (s *Supervisor) Stop(ctx context.Context) (StopResult, error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	c, stop, done, outcome := s.child, s.loopStop, s.loopDone, s.outcome
	s.loopStop = nil
	s.mu.Unlock()

	if c == nil {
		return StopResult{}, nil
	}

	if stop != nil {
		close(stop)
		<-done
	}

	// The loop may have handled an exit on its way out.
	s.mu.RLock()
	c = s.child
	s.mu.RUnlock()
	if c == nil {
		return StopResult{}, nil
	}

	logger := s.log()

	if s.State().IsStarting() {
		_ = s.transition(StateFailed)
	}
	if outcome != nil && outcome.settle(newStartupError(ErrStartCancelled, -1, nil)) {
		logger.Info("backend_startup_cancelled", "pid", c.pid)
	}
	if st := s.State(); st != StateStopping {
		if err := s.transition(StateStopping); err != nil {
			return StopResult{}, err
		}
	}

	result := StopResult{PID: c.pid}

	if c.termSent.IsZero() && !c.hasExited() {
		logger.Info("backend_stopping", "pid", c.pid, "grace", s.timings.StopGrace.String())
		if err := terminate(c.cmd.Process); err != nil {
			logger.Debug("backend_terminate_failed", "pid", c.pid, "error", err)
		}
		c.termSent = time.Now()
	}
	if c.termSent.IsZero() {
		c.termSent = time.Now()
	}

	var graceC <-chan time.Time
	if !c.killSent {
		remaining := s.timings.StopGrace - time.Since(c.termSent)
		if remaining < 0 {
			remaining = 0
		}
		grace := time.NewTimer(remaining)
		defer grace.Stop()
		graceC = grace.C
	}

	for {
		select {
		case <-c.exited:
			result.Forced = c.killSent
			result.ExitCode = c.exitCode
			result.Duration = time.Since(c.termSent)
			s.reap(c)
			if err := s.transition(StateStopped); err != nil {
				return result, err
			}
			logger.Info("backend_stopped",
				"pid", c.pid,
				"forced", result.Forced,
				"exit_code", result.ExitCode,
				"duration", result.Duration.String(),
			)
			return result, nil

		case <-graceC:
			graceC = nil
			logger.Warn("force_killing_backend", "pid", c.pid, "grace", s.timings.StopGrace.String())
			if s.callbacks.OnForceKill != nil {
				s.callbacks.OnForceKill(c.pid)
			}
			if err := forceKill(c.cmd.Process); err != nil {
				logger.Debug("backend_kill_failed", "pid", c.pid, "error", err)
			}
			c.killSent = true

		case <-ctx.Done():
			result.Forced = c.killSent
			result.ExitCode = -1
			return result, ctx.Err()
		}
	}
}

// transition applies from -> to if the table allows it.
func (s *Supervisor) transition(to State) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		logger := s.logger
		s.mu.Unlock()
		logger.Warn("invalid_state_transition", "from", from.String(), "to", to.String())
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	logger := s.logger
	s.mu.Unlock()

	logger.Debug("backend_state_changed", "from", from.String(), "to", to.String())
	if s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(from, to)
	}
	return nil
}

func (s *Supervisor) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Outcome returns the outcome of the most recent launch, or nil.
func (s *Supervisor) Outcome() *Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// PID returns the backend process id, or 0 when no process is held.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.child == nil {
		return 0
	}
	return s.child.pid
}

// Uptime returns how long the current process has been running, or 0.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.child == nil {
		return 0
	}
	return time.Since(s.child.started)
}

// LaunchID returns the correlation id of the most recent launch.
func (s *Supervisor) LaunchID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.launchID
}

// Launches returns the number of Start calls that reached Launching.
func (s *Supervisor) Launches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.launches
}

// Endpoint returns the health endpoint being probed.
func (s *Supervisor) Endpoint() string {
	return s.prober.Endpoint()
}

// Timings returns the effective timings.
func (s *Supervisor) Timings() Timings {
	return s.timings
}

// PipelineStats returns the output pipeline counters of the current process.
// Returns zeros when no process is held.
func (s *Supervisor) PipelineStats() (stdoutRead, stdoutDropped, stderrRead, stderrDropped int64) {
	s.mu.RLock()
	c := s.child
	s.mu.RUnlock()
	if c == nil {
		return
	}
	stdoutRead, stdoutDropped, _ = c.stdoutPipeline.Stats()
	stderrRead, stderrDropped, _ = c.stderrPipeline.Stats()
	return
}
