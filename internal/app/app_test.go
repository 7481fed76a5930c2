package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/go-backend-launcher/internal/config"
	"github.com/randomizedcoder/go-backend-launcher/internal/health"
	"github.com/randomizedcoder/go-backend-launcher/internal/instance"
	"github.com/randomizedcoder/go-backend-launcher/internal/process"
	"github.com/randomizedcoder/go-backend-launcher/internal/supervisor"
)

// =============================================================================
// Test Helpers
// =============================================================================

// scriptBuilder runs its script with sh -c.
type scriptBuilder struct {
	script string
}

func (b *scriptBuilder) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "sh", "-c", b.script), nil
}

func (b *scriptBuilder) Name() string { return "script" }

func upProber() health.Prober {
	return health.Func(func(context.Context) bool { return true })
}

func downProber() health.Prober {
	return health.Func(func(context.Context) bool { return false })
}

type event struct {
	kind string
	info ReadyInfo
	err  error
}

// fakePresenter records every call as an event.
type fakePresenter struct {
	events chan event

	mu          sync.Mutex
	diagnostics []string
	states      []supervisor.State
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{events: make(chan event, 64)}
}

func (p *fakePresenter) Loading()             { p.events <- event{kind: "loading"} }
func (p *fakePresenter) Ready(info ReadyInfo) { p.events <- event{kind: "ready", info: info} }
func (p *fakePresenter) Failed(err error)     { p.events <- event{kind: "failed", err: err} }
func (p *fakePresenter) Dormant()             { p.events <- event{kind: "dormant"} }
func (p *fakePresenter) Close()               { p.events <- event{kind: "close"} }

func (p *fakePresenter) Diagnostic(line string) {
	p.mu.Lock()
	p.diagnostics = append(p.diagnostics, line)
	p.mu.Unlock()
}

func (p *fakePresenter) StateChanged(state supervisor.State) {
	p.mu.Lock()
	p.states = append(p.states, state)
	p.mu.Unlock()
}

func (p *fakePresenter) diagnosticLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.diagnostics...)
}

// waitFor returns the next event of kind, failing after 5s.
func (p *fakePresenter) waitFor(t *testing.T, kind string) event {
	t.Helper()
	return p.waitForWithin(t, kind, 5*time.Second)
}

func (p *fakePresenter) waitForWithin(t *testing.T, kind string, d time.Duration) event {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case ev := <-p.events:
			if ev.kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", kind)
		}
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SkipPreflight = true
	cfg.LockFile = ""
	cfg.KeepAlive = false
	cfg.SettleDelay = 10 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.StartupTimeout = 5 * time.Second
	cfg.StopGrace = 2 * time.Second
	return cfg
}

type testApp struct {
	*App
	signals chan os.Signal
}

func newTestApp(t *testing.T, cfg *config.Config, script string, prober health.Prober) *testApp {
	t.Helper()
	signals := make(chan os.Signal, 1)
	opts := Options{Version: "test", Prober: prober, Signals: signals}
	if script != "" {
		opts.Builder = &scriptBuilder{script: script}
	}
	a, err := New(cfg, newTestLogger(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testApp{App: a, signals: signals}
}

// run starts Run in a goroutine. The returned channel yields its error.
func run(t *testing.T, a *testApp, p Presenter) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx, p) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(10 * time.Second):
		}
	})
	return errCh
}

func waitDone(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// =============================================================================
// Tests: launch and quit
// =============================================================================

func TestRun_ReadyThenQuit(t *testing.T) {
	a := newTestApp(t, testConfig(), `echo "JVM running"; exec sleep 30`, upProber())
	p := newFakePresenter()
	errCh := run(t, a, p)

	p.waitFor(t, "loading")
	ready := p.waitFor(t, "ready")
	if ready.info.PID <= 0 {
		t.Errorf("ReadyInfo.PID = %d", ready.info.PID)
	}
	if ready.info.Endpoint != "func" {
		t.Errorf("ReadyInfo.Endpoint = %q", ready.info.Endpoint)
	}
	if ready.info.LaunchID == "" {
		t.Error("ReadyInfo.LaunchID is empty")
	}
	if ready.info.Startup <= 0 {
		t.Errorf("ReadyInfo.Startup = %v", ready.info.Startup)
	}

	a.RequestQuit()
	a.RequestQuit()
	if err := waitDone(t, errCh); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	p.waitFor(t, "close")

	if st := a.Supervisor().State(); st != supervisor.StateStopped {
		t.Errorf("state after quit = %s, want stopped", st)
	}
	if pid := a.Supervisor().PID(); pid != 0 {
		t.Errorf("backend still held: pid %d", pid)
	}
}

func TestRun_StartupFailureIsReturned(t *testing.T) {
	a := newTestApp(t, testConfig(), `exit 3`, downProber())
	p := newFakePresenter()
	errCh := run(t, a, p)

	failed := p.waitFor(t, "failed")
	if !errors.Is(failed.err, supervisor.ErrPrematureExit) {
		t.Fatalf("Failed(%v), want premature exit", failed.err)
	}
	if code := supervisor.ExitCodeOf(failed.err); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}

	a.RequestQuit()
	err := waitDone(t, errCh)
	if !errors.Is(err, supervisor.ErrPrematureExit) {
		t.Errorf("Run() error = %v, want premature exit", err)
	}
	if s := a.Metrics().GenerateSummary(); s.Failures != 1 {
		t.Errorf("Failures = %d, want 1", s.Failures)
	}
}

func TestRun_HeadlessFailureExits(t *testing.T) {
	a := newTestApp(t, testConfig(), `exit 1`, downProber())
	errCh := run(t, a, NewHeadless(newTestLogger(), a))

	if err := waitDone(t, errCh); !errors.Is(err, supervisor.ErrPrematureExit) {
		t.Errorf("Run() error = %v, want premature exit", err)
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Command = []string{"/nonexistent/backend-binary"}
	a := newTestApp(t, cfg, "", upProber())
	p := newFakePresenter()
	errCh := run(t, a, p)

	failed := p.waitFor(t, "failed")
	if !errors.Is(failed.err, supervisor.ErrSpawn) {
		t.Errorf("Failed(%v), want spawn error", failed.err)
	}
	a.RequestQuit()
	waitDone(t, errCh)
}

func TestRun_DiagnosticsReachPresenter(t *testing.T) {
	a := newTestApp(t, testConfig(), `echo "java.lang.IllegalStateException: boom" >&2; echo "JVM running"; exec sleep 30`, upProber())
	p := newFakePresenter()
	errCh := run(t, a, p)
	p.waitFor(t, "ready")

	deadline := time.Now().Add(2 * time.Second)
	for len(p.diagnosticLines()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	lines := p.diagnosticLines()
	if len(lines) == 0 || !strings.Contains(lines[0], "IllegalStateException") {
		t.Errorf("diagnostics = %q", lines)
	}

	a.RequestQuit()
	waitDone(t, errCh)
}

// =============================================================================
// Tests: relaunch
// =============================================================================

func TestRun_RelaunchWhileReadyReshows(t *testing.T) {
	a := newTestApp(t, testConfig(), `echo "JVM running"; exec sleep 30`, upProber())
	p := newFakePresenter()
	errCh := run(t, a, p)

	first := p.waitFor(t, "ready")
	a.RequestRelaunch()
	second := p.waitFor(t, "ready")

	if second.info.PID != first.info.PID {
		t.Errorf("relaunch restarted the backend: pid %d -> %d", first.info.PID, second.info.PID)
	}
	if n := a.Supervisor().Launches(); n != 1 {
		t.Errorf("Launches() = %d, want 1", n)
	}

	a.RequestQuit()
	waitDone(t, errCh)
}

func TestRun_RelaunchAfterCrash(t *testing.T) {
	flag := filepath.Join(t.TempDir(), "launched")
	script := `if [ -f "` + flag + `" ]; then echo "JVM running"; exec sleep 30; fi
touch "` + flag + `"; echo "JVM running"; sleep 0.2; exit 9`

	a := newTestApp(t, testConfig(), script, upProber())
	p := newFakePresenter()
	errCh := run(t, a, p)

	p.waitFor(t, "ready")
	crash := p.waitFor(t, "failed")
	if !errors.Is(crash.err, supervisor.ErrBackendCrashed) {
		t.Fatalf("Failed(%v), want crash", crash.err)
	}

	a.RequestRelaunch()
	p.waitFor(t, "loading")
	p.waitFor(t, "ready")
	if n := a.Supervisor().Launches(); n != 2 {
		t.Errorf("Launches() = %d, want 2", n)
	}

	a.RequestQuit()
	if err := waitDone(t, errCh); err != nil {
		t.Errorf("Run() error = %v, want nil after a successful relaunch", err)
	}
	if s := a.Metrics().GenerateSummary(); s.Crashes != 1 {
		t.Errorf("Crashes = %d, want 1", s.Crashes)
	}
}

func TestRun_SIGHUPRelaunches(t *testing.T) {
	a := newTestApp(t, testConfig(), `exit 2`, downProber())
	p := newFakePresenter()
	errCh := run(t, a, p)

	p.waitFor(t, "failed")
	a.signals <- syscall.SIGHUP
	p.waitFor(t, "loading")
	p.waitFor(t, "failed")

	if n := a.Supervisor().Launches(); n != 2 {
		t.Errorf("Launches() = %d, want 2", n)
	}

	a.signals <- syscall.SIGTERM
	if err := waitDone(t, errCh); !errors.Is(err, supervisor.ErrPrematureExit) {
		t.Errorf("Run() error = %v", err)
	}
}

// =============================================================================
// Tests: windows closed
// =============================================================================

func TestRun_CloseWindows(t *testing.T) {
	t.Run("quits without keep-alive", func(t *testing.T) {
		a := newTestApp(t, testConfig(), `echo "JVM running"; exec sleep 30`, upProber())
		p := newFakePresenter()
		errCh := run(t, a, p)
		p.waitFor(t, "ready")

		a.CloseWindows()
		if err := waitDone(t, errCh); err != nil {
			t.Errorf("Run() error = %v", err)
		}
		if st := a.Supervisor().State(); st != supervisor.StateStopped {
			t.Errorf("state = %s, want stopped", st)
		}
	})

	t.Run("keep-alive goes dormant", func(t *testing.T) {
		cfg := testConfig()
		cfg.KeepAlive = true
		a := newTestApp(t, cfg, `echo "JVM running"; exec sleep 30`, upProber())
		p := newFakePresenter()
		errCh := run(t, a, p)
		p.waitFor(t, "ready")

		a.CloseWindows()
		p.waitFor(t, "dormant")
		if pid := a.Supervisor().PID(); pid != 0 {
			t.Errorf("backend still running while dormant: pid %d", pid)
		}

		a.RequestRelaunch()
		p.waitFor(t, "ready")

		a.RequestQuit()
		waitDone(t, errCh)
	})

	t.Run("during startup", func(t *testing.T) {
		a := newTestApp(t, testConfig(), `exec sleep 30`, downProber())
		p := newFakePresenter()
		errCh := run(t, a, p)
		p.waitFor(t, "loading")

		a.CloseWindows()
		if err := waitDone(t, errCh); err != nil {
			t.Errorf("Run() error = %v, cancelled startup is not a failure", err)
		}
	})
}

// =============================================================================
// Tests: shutdown paths
// =============================================================================

func TestRun_ContextCancelStopsBackend(t *testing.T) {
	a := newTestApp(t, testConfig(), `echo "JVM running"; exec sleep 30`, upProber())
	p := newFakePresenter()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx, p) }()

	p.waitFor(t, "ready")
	cancel()
	if err := waitDone(t, errCh); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if pid := a.Supervisor().PID(); pid != 0 {
		t.Errorf("backend still held: pid %d", pid)
	}
}

func TestRun_ForceKillIsCounted(t *testing.T) {
	cfg := testConfig()
	cfg.StopGrace = 100 * time.Millisecond
	a := newTestApp(t, cfg, `trap '' TERM; echo "JVM running"; while :; do sleep 0.05; done`, upProber())
	p := newFakePresenter()
	errCh := run(t, a, p)
	p.waitFor(t, "ready")

	a.RequestQuit()
	waitDone(t, errCh)
	if s := a.Metrics().GenerateSummary(); s.ForceKills != 1 {
		t.Errorf("ForceKills = %d, want 1", s.ForceKills)
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	cfg := testConfig()
	cfg.SkipPreflight = false
	cfg.Command = []string{"/nonexistent/backend-binary"}

	var out bytes.Buffer
	a, err := New(cfg, newTestLogger(), Options{Prober: downProber(), Output: &out, Signals: make(chan os.Signal)})
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background(), NewHeadless(newTestLogger(), a)) }()

	err = waitDone(t, errCh)
	if err == nil || !strings.Contains(err.Error(), "backend_command") {
		t.Errorf("Run() error = %v, want preflight failure naming backend_command", err)
	}
	if !strings.Contains(out.String(), "Preflight checks:") {
		t.Errorf("preflight output missing:\n%s", out.String())
	}
	if n := a.Supervisor().Launches(); n != 0 {
		t.Errorf("backend launched despite failed preflight: %d", n)
	}
}

func TestRun_SingleInstance(t *testing.T) {
	cfg := testConfig()
	cfg.LockFile = filepath.Join(t.TempDir(), "launcher.lock")

	held, err := instance.Acquire(cfg.LockFile)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	a := newTestApp(t, cfg, `exec sleep 30`, upProber())
	err = waitDone(t, run(t, a, newFakePresenter()))
	if !errors.Is(err, instance.ErrAlreadyRunning) {
		t.Errorf("Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestRun_MetricsServerBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.MetricsAddr = ln.Addr().String()
	a := newTestApp(t, cfg, `exec sleep 30`, upProber())

	err = waitDone(t, run(t, a, newFakePresenter()))
	if err == nil || !strings.Contains(err.Error(), "metrics server") {
		t.Errorf("Run() error = %v", err)
	}
}

// =============================================================================
// Tests: wiring
// =============================================================================

func TestNew_InvalidMarker(t *testing.T) {
	cfg := testConfig()
	cfg.Markers = []string{" && "}
	if _, err := New(cfg, newTestLogger(), Options{}); err == nil {
		t.Error("New() should reject an invalid marker")
	}
}

func TestNewBuilder(t *testing.T) {
	cfg := testConfig()
	cfg.JarPath = "/opt/app/backend.jar"
	cfg.JavaPath = "/usr/bin/java"
	cfg.JVMArgs = []string{"-Xmx256m"}

	if _, ok := NewBuilder(cfg).(*process.BackendBuilder); !ok {
		t.Errorf("NewBuilder() = %T, want *process.BackendBuilder", NewBuilder(cfg))
	}

	a, err := New(cfg, newTestLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := a.CommandString(), "/usr/bin/java -Xmx256m -jar /opt/app/backend.jar"; got != want {
		t.Errorf("CommandString() = %q, want %q", got, want)
	}

	cfg.JarPath = ""
	cfg.Command = []string{"./gradlew", "bootRun"}
	b, ok := NewBuilder(cfg).(*process.CommandBuilder)
	if !ok {
		t.Fatalf("NewBuilder() = %T, want *process.CommandBuilder", NewBuilder(cfg))
	}
	if b.Path != "./gradlew" || len(b.Args) != 1 {
		t.Errorf("CommandBuilder = %+v", b)
	}
}

func TestFailureKind(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{supervisor.ErrSpawn, "spawn"},
		{&supervisor.StartupError{Kind: supervisor.ErrPrematureExit, ExitCode: 1}, "premature_exit"},
		{&supervisor.StartupError{Kind: supervisor.ErrStartupTimeout, ExitCode: -1}, "startup_timeout"},
		{supervisor.ErrStartCancelled, "cancelled"},
		{supervisor.ErrBackendCrashed, "crashed"},
		{errors.New("other"), "other"},
	}

	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			if got := FailureKind(tc.err); got != tc.want {
				t.Errorf("FailureKind(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestPrintExitSummary(t *testing.T) {
	a := newTestApp(t, testConfig(), `echo "JVM running"; echo "Caused by: java.net.BindException" >&2; exec sleep 30`, upProber())
	p := newFakePresenter()
	errCh := run(t, a, p)
	p.waitFor(t, "ready")
	time.Sleep(50 * time.Millisecond)
	a.RequestQuit()
	waitDone(t, errCh)

	var buf bytes.Buffer
	a.PrintExitSummary(&buf)
	out := buf.String()

	for _, want := range []string{
		"go-backend-launcher Exit Summary",
		"Final State:            stopped",
		"Launches:             1",
		"Became Ready:         1",
		"Exit Codes:",
		"Backend Errors:",
		"BindException",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Metrics endpoint") {
		t.Error("no metrics server was configured")
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(3*time.Hour + 4*time.Minute + 5*time.Second); got != "03:04:05" {
		t.Errorf("formatDuration() = %q", got)
	}
}

// =============================================================================
// Tests: Headless
// =============================================================================

type fakeControls struct {
	quits int
}

func (c *fakeControls) RequestRelaunch() {}
func (c *fakeControls) CloseWindows()    {}
func (c *fakeControls) RequestQuit()     { c.quits++ }

func TestHeadless(t *testing.T) {
	var buf bytes.Buffer
	controls := &fakeControls{}
	h := NewHeadless(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), controls)

	h.Loading()
	h.StateChanged(supervisor.StatePollingHealth)
	h.Ready(ReadyInfo{Endpoint: "http://127.0.0.1:8080/", PID: 42})
	h.Dormant()
	h.Diagnostic("ignored")
	h.Failed(supervisor.ErrStartupTimeout)
	h.Close()

	if controls.quits != 1 {
		t.Errorf("Failed() requested quit %d times, want 1", controls.quits)
	}
	out := buf.String()
	for _, want := range []string{"presenter_loading", "state=polling_health", "pid=42", "presenter_dormant", "Please check your Java installation"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}
