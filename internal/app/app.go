// Package app wires the supervisor to a presenter and drives the launcher
// lifecycle: launch, relaunch, window close and shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-backend-launcher/internal/config"
	"github.com/randomizedcoder/go-backend-launcher/internal/health"
	"github.com/randomizedcoder/go-backend-launcher/internal/instance"
	"github.com/randomizedcoder/go-backend-launcher/internal/logging"
	"github.com/randomizedcoder/go-backend-launcher/internal/metrics"
	"github.com/randomizedcoder/go-backend-launcher/internal/preflight"
	"github.com/randomizedcoder/go-backend-launcher/internal/process"
	"github.com/randomizedcoder/go-backend-launcher/internal/readiness"
	"github.com/randomizedcoder/go-backend-launcher/internal/supervisor"
)

// stopSlack is added to the stop grace when bounding a shutdown, leaving
// room for the SIGKILL to be observed.
const stopSlack = 10 * time.Second

// ReadyInfo describes a backend that passed its health check.
type ReadyInfo struct {
	Endpoint  string
	PID       int
	LaunchID  string
	StartedAt time.Time
	Startup   time.Duration
}

// Presenter is the visible surface of the launcher. Methods are called from
// the app goroutine, except Diagnostic which arrives from the backend's
// stderr reader. None of them may block.
type Presenter interface {
	Loading()
	Ready(info ReadyInfo)
	Failed(err error)
	Diagnostic(line string)
	Dormant()
	Close()
}

// StateObserver is optionally implemented by a Presenter that displays the
// supervisor state.
type StateObserver interface {
	StateChanged(state supervisor.State)
}

// Controls are the requests a presenter can make of the app.
type Controls interface {
	RequestRelaunch()
	CloseWindows()
	RequestQuit()
}

type request int

const (
	requestRelaunch request = iota
	requestClose
)

// Options holds the optional collaborators of an App.
type Options struct {
	Version string

	// Builder and Prober replace the ones derived from the configuration.
	Builder process.Builder
	Prober  health.Prober

	// Output receives human-readable preflight results. Nil discards them.
	Output io.Writer

	// Signals replaces the process signal subscription.
	Signals <-chan os.Signal
}

// App coordinates the supervisor, metrics and presenter.
type App struct {
	config *config.Config
	logger *slog.Logger

	builder  process.Builder
	prober   health.Prober
	sup      *supervisor.Supervisor
	metrics  *metrics.Collector
	registry *prometheus.Registry
	server   *metrics.Server
	stderr   *logging.StderrHandler
	output   io.Writer
	signals  <-chan os.Signal

	presenter Presenter
	requests  chan request
	crashes   chan error
	quit      chan struct{}
	quitOnce  sync.Once

	startTime time.Time
}

// New creates an App for cfg.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	markers, err := parseMarkers(cfg.Markers)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(opts.Version, registry)

	builder := opts.Builder
	if builder == nil {
		builder = NewBuilder(cfg)
	}
	prober := opts.Prober
	if prober == nil {
		prober = health.New(health.Config{
			Mode:     health.Mode(cfg.HealthMode),
			Host:     cfg.HealthHost,
			Port:     cfg.HealthPort,
			Path:     cfg.HealthPath,
			Timeout:  cfg.HealthTimeout,
			Observer: collector,
		})
	}

	a := &App{
		config:    cfg,
		logger:    logger,
		builder:   builder,
		prober:    prober,
		metrics:   collector,
		registry:  registry,
		stderr:    logging.NewStderrHandler(logger, cfg.Verbose),
		output:    opts.Output,
		signals:   opts.Signals,
		presenter: nopPresenter{},
		requests:  make(chan request, 8),
		crashes:   make(chan error, 1),
		quit:      make(chan struct{}),
	}

	a.sup = supervisor.New(supervisor.Config{
		Builder: builder,
		Prober:  prober,
		Logger:  logger,
		Timings: supervisor.Timings{
			SettleDelay:    cfg.SettleDelay,
			PollInterval:   cfg.PollInterval,
			StartupTimeout: cfg.StartupTimeout,
			StopGrace:      cfg.StopGrace,
		},
		Markers:          markers,
		MarkerBufferSize: cfg.MarkerBuffer,
		StdoutParser:     logging.NewStdoutEcho(logger, cfg.Verbose),
		StderrParser:     a.stderr,
		Callbacks: supervisor.Callbacks{
			OnStateChange:   a.onStateChange,
			OnStart:         a.onStart,
			OnExit:          a.onExit,
			OnDiagnostic:    a.onDiagnostic,
			OnCrash:         a.onCrash,
			OnForceKill:     a.onForceKill,
			OnPipelineStats: collector.RecordPipeline,
		},
	})

	if cfg.MetricsAddr != "" {
		a.server = metrics.NewServer(cfg.MetricsAddr, registry, a.backendReady, logger)
	}

	return a, nil
}

// NewBuilder returns the backend command builder described by cfg: the
// custom command when one is configured, otherwise java -jar.
func NewBuilder(cfg *config.Config) process.Builder {
	if len(cfg.Command) > 0 {
		return process.NewCommandBuilder(cfg.Command, cfg.BaseDir, cfg.Env)
	}
	return process.NewBackendBuilder(&process.BackendConfig{
		JavaPath: cfg.JavaPath,
		JarPath:  cfg.JarPath,
		Layout:   process.Layout(cfg.Layout),
		BaseDir:  cfg.BaseDir,
		JVMArgs:  cfg.JVMArgs,
		AppArgs:  cfg.AppArgs,
		Env:      cfg.Env,
	})
}

func parseMarkers(specs []string) ([]readiness.Marker, error) {
	if len(specs) == 0 {
		return readiness.DefaultMarkers(), nil
	}
	markers := make([]readiness.Marker, 0, len(specs))
	for _, s := range specs {
		m, err := readiness.ParseMarker(s)
		if err != nil {
			return nil, fmt.Errorf("readiness marker %q: %w", s, err)
		}
		markers = append(markers, m)
	}
	return markers, nil
}

// Run shows p, launches the backend and blocks until quit is requested, a
// shutdown signal arrives or ctx ends. The backend is always stopped before
// Run returns. The returned error is the fatal startup or crash error, if
// one is still current.
func (a *App) Run(ctx context.Context, p Presenter) error {
	a.startTime = time.Now()
	if p != nil {
		a.presenter = p
	}
	defer a.presenter.Close()

	if a.config.LockFile != "" {
		lock, err := instance.Acquire(a.config.LockFile)
		if err != nil {
			return fmt.Errorf("single instance check: %w", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				a.logger.Warn("instance_lock_release_failed", "error", err)
			}
		}()
	}

	if !a.config.SkipPreflight {
		result := a.Preflight()
		if !result.Passed {
			err := fmt.Errorf("preflight checks failed: %s (use -skip-preflight to override)", result.Summary())
			return a.fatal(ctx, err)
		}
	}

	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	sigCh := a.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
		defer signal.Stop(ch)
		sigCh = ch
	}

	defer a.stopBackend()

	pending := a.launch(ctx)
	var runErr error

	for {
		var settled <-chan struct{}
		if pending != nil {
			settled = pending.Done()
		}

		select {
		case <-settled:
			out := pending
			pending = nil
			if err := out.Err(); err != nil {
				if errors.Is(err, supervisor.ErrStartCancelled) {
					continue
				}
				a.metrics.StartupFailed(FailureKind(err))
				runErr = err
				a.presenter.Failed(err)
				continue
			}
			a.metrics.BackendReady()
			a.showReady(out)

		case err := <-a.crashes:
			runErr = err
			a.presenter.Failed(err)

		case req := <-a.requests:
			switch req {
			case requestRelaunch:
				if a.sup.State() == supervisor.StateReady {
					a.logger.Info("relaunch_reshow")
					a.showReady(a.sup.Outcome())
					continue
				}
				a.logger.Info("relaunch_requested", "state", a.sup.State().String())
				a.stopBackend()
				runErr = nil
				pending = a.launch(ctx)

			case requestClose:
				a.logger.Info("windows_closed", "keep_alive", a.config.KeepAlive)
				a.stopBackend()
				pending = nil
				if !a.config.KeepAlive {
					return runErr
				}
				a.presenter.Dormant()
			}

		case <-a.quit:
			a.logger.Info("quit_requested")
			return runErr

		case sig := <-sigCh:
			a.logger.Info("received_signal", "signal", sig.String())
			if sig == syscall.SIGHUP {
				a.RequestRelaunch()
				continue
			}
			return runErr

		case <-ctx.Done():
			a.logger.Info("context_cancelled")
			return runErr
		}
	}
}

// fatal shows err and waits for the presenter to acknowledge it.
func (a *App) fatal(ctx context.Context, err error) error {
	a.logger.Error("launcher_failed", "error", err)
	a.presenter.Failed(err)
	select {
	case <-a.quit:
	case <-ctx.Done():
	}
	return err
}

// launch shows the loading surface and starts the backend. A spawn failure
// comes back as an already settled outcome.
func (a *App) launch(ctx context.Context) *supervisor.Outcome {
	a.stderr.Reset()
	a.presenter.Loading()

	outcome, err := a.sup.Start(ctx)
	if outcome == nil {
		a.logger.Warn("backend_launch_rejected", "error", err)
		return nil
	}
	return outcome
}

func (a *App) showReady(out *supervisor.Outcome) {
	info := ReadyInfo{
		Endpoint:  a.sup.Endpoint(),
		PID:       a.sup.PID(),
		LaunchID:  a.sup.LaunchID(),
		StartedAt: time.Now().Add(-a.sup.Uptime()),
	}
	if out != nil {
		info.Startup = out.SettledAt().Sub(info.StartedAt)
	}
	a.presenter.Ready(info)
}

// stopBackend stops the backend, bounded by the stop grace plus slack.
func (a *App) stopBackend() {
	ctx, cancel := context.WithTimeout(context.Background(), a.sup.Timings().StopGrace+stopSlack)
	defer cancel()

	res, err := a.sup.Stop(ctx)
	if err != nil {
		a.logger.Error("backend_stop_failed", "pid", res.PID, "error", err)
		return
	}
	if res.PID != 0 {
		a.logger.Info("backend_shutdown_complete",
			"pid", res.PID,
			"forced", res.Forced,
			"exit_code", res.ExitCode,
		)
	}
}

// Preflight runs the environment checks for the configured backend. Results
// are logged and, when an output writer was given, printed.
func (a *App) Preflight() *preflight.Result {
	opts := preflight.Options{
		HealthAddr: net.JoinHostPort(a.config.HealthHost, strconv.Itoa(a.config.HealthPort)),
	}
	switch b := a.builder.(type) {
	case *process.BackendBuilder:
		java, jar, err := b.Resolve()
		opts.JavaPath, opts.JarPath, opts.JarErr = java, jar, err
	case *process.CommandBuilder:
		opts.Command = append([]string{b.Path}, b.Args...)
	default:
		opts.Command = []string{b.Name()}
	}

	result := preflight.RunAll(opts)
	for _, c := range result.Checks {
		level := slog.LevelInfo
		if !c.Passed {
			level = slog.LevelError
		} else if c.Warning {
			level = slog.LevelWarn
		}
		a.logger.Log(context.Background(), level, "preflight_check",
			"name", c.Name,
			"passed", c.Passed,
			"message", c.Message,
		)
	}
	if a.output != nil {
		preflight.PrintResults(a.output, result)
	}
	return result
}

// CommandString returns the backend command line that would be run.
func (a *App) CommandString() string {
	if d, ok := a.builder.(interface{ CommandString() string }); ok {
		return d.CommandString()
	}
	return a.builder.Name()
}

// =============================================================================
// Controls
// =============================================================================

// RequestRelaunch asks for the main surface: re-shown when the backend is
// ready, otherwise the backend is (re)started.
func (a *App) RequestRelaunch() {
	a.send(requestRelaunch)
}

// CloseWindows reports that every window was closed.
func (a *App) CloseWindows() {
	a.send(requestClose)
}

// RequestQuit asks Run to stop the backend and return. Safe to call more
// than once.
func (a *App) RequestQuit() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *App) send(r request) {
	select {
	case a.requests <- r:
	default:
		a.logger.Warn("request_dropped", "request", int(r))
	}
}

// =============================================================================
// Supervisor callbacks
// =============================================================================

func (a *App) onStateChange(_, newState supervisor.State) {
	a.metrics.SetState(newState.String())
	if newState == supervisor.StateLaunching {
		a.metrics.BackendLaunching()
	}
	if o, ok := a.presenter.(StateObserver); ok {
		o.StateChanged(newState)
	}
}

func (a *App) onStart(pid int) {
	a.logger.Debug("backend_process_started", "pid", pid)
}

func (a *App) onExit(exitCode int, uptime time.Duration) {
	a.metrics.RecordExit(exitCode, uptime)
}

func (a *App) onDiagnostic(line string) {
	a.presenter.Diagnostic(line)
}

func (a *App) onCrash(err error) {
	a.metrics.BackendCrashed()
	select {
	case a.crashes <- err:
	default:
	}
}

func (a *App) onForceKill(pid int) {
	a.metrics.ForceKilled()
}

// =============================================================================
// Accessors
// =============================================================================

// Supervisor returns the backend supervisor.
func (a *App) Supervisor() *supervisor.Supervisor {
	return a.sup
}

// Metrics returns the metrics collector.
func (a *App) Metrics() *metrics.Collector {
	return a.metrics
}

// Gatherer returns the registry holding the launcher metrics.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// RecentDiagnostics returns up to n of the latest stderr lines.
func (a *App) RecentDiagnostics(n int) []string {
	return a.stderr.RecentLines(n)
}

func (a *App) backendReady() bool {
	return a.sup.State() == supervisor.StateReady
}

// FailureKind returns a short label for a startup or crash error.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, supervisor.ErrSpawn):
		return "spawn"
	case errors.Is(err, supervisor.ErrPrematureExit):
		return "premature_exit"
	case errors.Is(err, supervisor.ErrStartupTimeout):
		return "startup_timeout"
	case errors.Is(err, supervisor.ErrStartCancelled):
		return "cancelled"
	case errors.Is(err, supervisor.ErrBackendCrashed):
		return "crashed"
	default:
		return "other"
	}
}

type nopPresenter struct{}

func (nopPresenter) Loading()          {}
func (nopPresenter) Ready(ReadyInfo)   {}
func (nopPresenter) Failed(error)      {}
func (nopPresenter) Diagnostic(string) {}
func (nopPresenter) Dormant()          {}
func (nopPresenter) Close()            {}
