package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-backend-launcher/internal/app"
	"github.com/randomizedcoder/go-backend-launcher/internal/supervisor"
)

// =============================================================================
// Mock Controls
// =============================================================================

type mockControls struct {
	relaunches int
	closes     int
	quits      int
}

func (c *mockControls) RequestRelaunch() { c.relaunches++ }
func (c *mockControls) CloseWindows()    { c.closes++ }
func (c *mockControls) RequestQuit()     { c.quits++ }

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T", next)
	}
	return model
}

func key(s string) tea.KeyMsg {
	switch s {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func readyInfo() app.ReadyInfo {
	return app.ReadyInfo{
		Endpoint:  "http://127.0.0.1:8080/",
		PID:       4242,
		LaunchID:  "0b5c3f0e-launch",
		StartedAt: time.Now().Add(-90 * time.Second),
		Startup:   3500 * time.Millisecond,
	}
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	m := New(Config{StartupTimeout: 30 * time.Second})

	if m.Screen() != ScreenLoading {
		t.Errorf("Screen() = %s, want loading", m.Screen())
	}
	if m.maxDiagnostics != DefaultMaxDiagnostics {
		t.Errorf("maxDiagnostics = %d, want %d", m.maxDiagnostics, DefaultMaxDiagnostics)
	}
	if m.width != 80 || m.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", m.width, m.height)
	}
	if m.Init() == nil {
		t.Error("Init() returned nil cmd")
	}
}

func TestScreen_String(t *testing.T) {
	tests := []struct {
		screen Screen
		want   string
	}{
		{ScreenLoading, "loading"},
		{ScreenMain, "main"},
		{ScreenFailure, "failure"},
		{ScreenDormant, "dormant"},
		{Screen(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.screen.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

// =============================================================================
// Tests: Update - Presenter Messages
// =============================================================================

func TestModel_ScreenTransitions(t *testing.T) {
	m := New(Config{})

	m = update(t, m, ReadyMsg{Info: readyInfo()})
	if m.Screen() != ScreenMain {
		t.Fatalf("after ReadyMsg screen = %s", m.Screen())
	}

	m = update(t, m, DormantMsg{})
	if m.Screen() != ScreenDormant {
		t.Fatalf("after DormantMsg screen = %s", m.Screen())
	}

	m = update(t, m, DiagnosticMsg{Line: "old output"})
	m = update(t, m, FailedMsg{Err: supervisor.ErrStartupTimeout})
	if m.Screen() != ScreenFailure || !errors.Is(m.Err(), supervisor.ErrStartupTimeout) {
		t.Fatalf("after FailedMsg screen = %s err = %v", m.Screen(), m.Err())
	}

	next, cmd := m.Update(LoadingMsg{})
	m = next.(Model)
	if m.Screen() != ScreenLoading {
		t.Errorf("after LoadingMsg screen = %s", m.Screen())
	}
	if m.Err() != nil || len(m.Diagnostics()) != 0 {
		t.Error("LoadingMsg should clear the previous failure")
	}
	if cmd == nil {
		t.Error("LoadingMsg should restart the spinner")
	}
}

func TestModel_StateMsg(t *testing.T) {
	m := update(t, New(Config{}), StateMsg{State: supervisor.StatePollingHealth})
	if m.State() != supervisor.StatePollingHealth {
		t.Errorf("State() = %s", m.State())
	}
	if !strings.Contains(m.View(), "Waiting for the health endpoint") {
		t.Errorf("loading view does not describe the state:\n%s", m.View())
	}
}

func TestModel_DiagnosticsAreBounded(t *testing.T) {
	m := New(Config{MaxDiagnostics: 3})
	for i := 0; i < 5; i++ {
		m = update(t, m, DiagnosticMsg{Line: fmt.Sprintf("line %d", i)})
	}

	got := m.Diagnostics()
	if len(got) != 3 || got[0] != "line 2" || got[2] != "line 4" {
		t.Errorf("Diagnostics() = %q, want the last 3 lines", got)
	}
}

func TestModel_QuitMsg(t *testing.T) {
	next, cmd := New(Config{}).Update(QuitMsg{})
	if cmd == nil {
		t.Fatal("QuitMsg should return tea.Quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("QuitMsg cmd is not tea.Quit")
	}
	if next.(Model).View() != "" {
		t.Error("View() should be empty once quitting")
	}
}

func TestModel_WindowSize(t *testing.T) {
	m := update(t, New(Config{}), tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Tick(t *testing.T) {
	m := New(Config{StartupTimeout: 10 * time.Second})
	next, cmd := m.Update(TickMsg(m.loadingSince.Add(5 * time.Second)))
	m = next.(Model)

	if cmd == nil {
		t.Error("TickMsg should schedule the next tick")
	}
	if got := m.StartupProgress(); got < 0.49 || got > 0.51 {
		t.Errorf("StartupProgress() = %v, want 0.5", got)
	}

	m = update(t, m, TickMsg(m.loadingSince.Add(time.Minute)))
	if got := m.StartupProgress(); got != 1 {
		t.Errorf("StartupProgress() = %v, want capped at 1", got)
	}
}

func TestModel_SpinnerOnlyWhileLoading(t *testing.T) {
	m := New(Config{})
	tick := m.spinner.Tick()

	if _, cmd := m.Update(tick); cmd == nil {
		t.Error("spinner should keep ticking on the loading surface")
	}

	m = update(t, m, ReadyMsg{Info: readyInfo()})
	if _, cmd := m.Update(spinner.TickMsg{}); cmd != nil {
		t.Error("spinner should stop once the backend is ready")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Keys(t *testing.T) {
	tests := []struct {
		name       string
		screen     tea.Msg
		key        string
		relaunches int
		closes     int
		quits      int
	}{
		{"q quits", ReadyMsg{Info: readyInfo()}, "q", 0, 0, 1},
		{"ctrl+c quits", LoadingMsg{}, "ctrl+c", 0, 0, 1},
		{"r relaunches", ReadyMsg{Info: readyInfo()}, "r", 1, 0, 0},
		{"r relaunches when dormant", DormantMsg{}, "r", 1, 0, 0},
		{"w closes windows", ReadyMsg{Info: readyInfo()}, "w", 0, 1, 0},
		{"w ignored when dormant", DormantMsg{}, "w", 0, 0, 0},
		{"unbound key", ReadyMsg{Info: readyInfo()}, "x", 0, 0, 0},
		{"any key leaves failure", FailedMsg{Err: supervisor.ErrSpawn}, "x", 0, 0, 1},
		{"r leaves failure", FailedMsg{Err: supervisor.ErrSpawn}, "r", 0, 0, 1},
		{"enter leaves failure", FailedMsg{Err: supervisor.ErrSpawn}, "enter", 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockControls{}
			m := update(t, New(Config{Controls: c}), tt.screen)

			_, cmd := m.Update(key(tt.key))
			if cmd != nil {
				t.Error("keys are forwarded to the controls, not handled as commands")
			}
			if c.relaunches != tt.relaunches || c.closes != tt.closes || c.quits != tt.quits {
				t.Errorf("controls = %+v, want relaunch=%d close=%d quit=%d",
					*c, tt.relaunches, tt.closes, tt.quits)
			}
		})
	}
}

func TestModel_KeysWithoutControls(t *testing.T) {
	m := New(Config{})
	if _, cmd := m.Update(key("q")); cmd != nil {
		t.Error("without controls keys do nothing")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View(t *testing.T) {
	tests := []struct {
		name string
		msgs []tea.Msg
		want []string
	}{
		{
			name: "loading",
			msgs: []tea.Msg{DiagnosticMsg{Line: "Picked up JAVA_TOOL_OPTIONS"}},
			want: []string{"go-backend-launcher", "Starting Backend", "Elapsed", "Deadline", "JAVA_TOOL_OPTIONS", "q: quit"},
		},
		{
			name: "main",
			msgs: []tea.Msg{StateMsg{State: supervisor.StateReady}, ReadyMsg{Info: readyInfo()}},
			want: []string{"Backend ready", "http://127.0.0.1:8080/", "4242", "00:01:", "3.5s", "0b5c3f0e-launch", "ready"},
		},
		{
			name: "failure",
			msgs: []tea.Msg{
				DiagnosticMsg{Line: "Error: Unable to access jarfile backend.jar"},
				FailedMsg{Err: &supervisor.StartupError{Kind: supervisor.ErrPrematureExit, ExitCode: 1}},
			},
			want: []string{app.FatalStartupMessage, "exit code 1", "Recent backend output:", "Unable to access jarfile", "any key: exit"},
		},
		{
			name: "dormant",
			msgs: []tea.Msg{DormantMsg{}},
			want: []string{"All windows closed", "r: relaunch"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Config{StartupTimeout: 30 * time.Second})
			m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
			for _, msg := range tt.msgs {
				m = update(t, m, msg)
			}
			m = update(t, m, TickMsg(time.Now()))

			view := m.View()
			for _, w := range tt.want {
				if !strings.Contains(view, w) {
					t.Errorf("view missing %q:\n%s", w, view)
				}
			}
		})
	}
}

func TestModel_ViewNarrowTerminal(t *testing.T) {
	m := update(t, New(Config{}), tea.WindowSizeMsg{Width: 10, Height: 5})
	m = update(t, m, DiagnosticMsg{Line: strings.Repeat("x", 500)})
	m = update(t, m, FailedMsg{Err: errors.New("boom")})

	view := m.View()
	if view == "" {
		t.Fatal("View() is empty")
	}
	if strings.Contains(view, strings.Repeat("x", 100)) {
		t.Error("long diagnostic lines should be clipped")
	}
}

func TestModel_Uptime(t *testing.T) {
	m := New(Config{})
	if m.Uptime() != 0 {
		t.Error("Uptime() before ready should be 0")
	}

	info := readyInfo()
	m = update(t, m, ReadyMsg{Info: info})
	m = update(t, m, TickMsg(info.StartedAt.Add(2*time.Minute)))
	if got := m.Uptime(); got != 2*time.Minute {
		t.Errorf("Uptime() = %v, want 2m", got)
	}
}

// =============================================================================
// Tests: Presenter
// =============================================================================

func TestPresenter_CloseEndsProgram(t *testing.T) {
	p := NewPresenter(New(Config{}),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
		tea.WithoutRenderer(),
		tea.WithoutSignalHandler(),
	)

	done := make(chan error, 1)
	go func() { done <- p.Run() }()

	p.Loading()
	p.StateChanged(supervisor.StateLaunching)
	p.Diagnostic("stderr line")
	p.Ready(readyInfo())
	p.Dormant()
	p.Failed(supervisor.ErrSpawn)
	p.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("program did not exit after Close")
	}

	// Sends after exit must not block.
	p.Loading()
}

// =============================================================================
// Tests: Formatting
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{26*time.Hour + 3*time.Minute, "26:03:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTail(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	if got := tail(lines, 2); len(got) != 2 || got[0] != "c" {
		t.Errorf("tail() = %q", got)
	}
	if got := tail(lines, 10); len(got) != 4 {
		t.Errorf("tail() = %q", got)
	}
}
