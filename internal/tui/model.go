package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-backend-launcher/internal/app"
	"github.com/randomizedcoder/go-backend-launcher/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update elapsed times.
type TickMsg time.Time

// LoadingMsg switches to the loading surface.
type LoadingMsg struct{}

// ReadyMsg switches to the main surface.
type ReadyMsg struct {
	Info app.ReadyInfo
}

// FailedMsg switches to the failure surface.
type FailedMsg struct {
	Err error
}

// DiagnosticMsg carries one backend stderr line.
type DiagnosticMsg struct {
	Line string
}

// DormantMsg switches to the dormant surface.
type DormantMsg struct{}

// StateMsg carries a supervisor state change.
type StateMsg struct {
	State supervisor.State
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Screens
// =============================================================================

// Screen is the visible surface.
type Screen int

const (
	ScreenLoading Screen = iota
	ScreenMain
	ScreenFailure
	ScreenDormant
)

func (s Screen) String() string {
	switch s {
	case ScreenLoading:
		return "loading"
	case ScreenMain:
		return "main"
	case ScreenFailure:
		return "failure"
	case ScreenDormant:
		return "dormant"
	default:
		return "unknown"
	}
}

// DefaultMaxDiagnostics is how many stderr lines the failure surface keeps.
const DefaultMaxDiagnostics = 10

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	controls       app.Controls
	startupTimeout time.Duration
	maxDiagnostics int

	// Current state
	screen       Screen
	state        supervisor.State
	spinner      spinner.Model
	startTime    time.Time
	loadingSince time.Time
	now          time.Time
	ready        app.ReadyInfo
	err          error
	diagnostics  []string

	// Display options
	width  int
	height int

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	// Controls receives relaunch, close and quit requests.
	Controls app.Controls

	// StartupTimeout scales the loading progress bar.
	StartupTimeout time.Duration

	MaxDiagnostics int
}

// New creates a new TUI model showing the loading surface.
func New(cfg Config) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	maxDiag := cfg.MaxDiagnostics
	if maxDiag <= 0 {
		maxDiag = DefaultMaxDiagnostics
	}

	now := time.Now()
	return Model{
		controls:       cfg.Controls,
		startupTimeout: cfg.StartupTimeout,
		maxDiagnostics: maxDiag,
		screen:         ScreenLoading,
		spinner:        s,
		startTime:      now,
		loadingSince:   now,
		now:            now,
		width:          80,
		height:         24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if m.screen == ScreenLoading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case TickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case LoadingMsg:
		m.screen = ScreenLoading
		m.loadingSince = time.Now()
		m.err = nil
		m.diagnostics = nil
		return m, m.spinner.Tick

	case ReadyMsg:
		m.screen = ScreenMain
		m.ready = msg.Info
		return m, nil

	case FailedMsg:
		m.screen = ScreenFailure
		m.err = msg.Err
		return m, nil

	case DiagnosticMsg:
		m.diagnostics = append(m.diagnostics, msg.Line)
		if over := len(m.diagnostics) - m.maxDiagnostics; over > 0 {
			m.diagnostics = m.diagnostics[over:]
		}
		return m, nil

	case DormantMsg:
		m.screen = ScreenDormant
		return m, nil

	case StateMsg:
		m.state = msg.State
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// handleKey forwards key presses to the controls. The app answers with
// presenter calls, which arrive here as messages.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.controls == nil {
		return m, nil
	}

	// The failure surface blocks until any key is pressed.
	if m.screen == ScreenFailure {
		m.controls.RequestQuit()
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.RequestQuit()
	case "r":
		m.controls.RequestRelaunch()
	case "w":
		if m.screen != ScreenDormant {
			m.controls.CloseWindows()
		}
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	switch m.screen {
	case ScreenMain:
		return m.renderMainView()
	case ScreenFailure:
		return m.renderFailureView()
	case ScreenDormant:
		return m.renderDormantView()
	default:
		return m.renderLoadingView()
	}
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Screen returns the visible surface.
func (m Model) Screen() Screen {
	return m.screen
}

// State returns the last reported supervisor state.
func (m Model) State() supervisor.State {
	return m.state
}

// Err returns the error shown on the failure surface.
func (m Model) Err() error {
	return m.err
}

// Diagnostics returns the retained stderr lines, oldest first.
func (m Model) Diagnostics() []string {
	return m.diagnostics
}

// Elapsed returns the time since the launcher started.
func (m Model) Elapsed() time.Duration {
	return m.now.Sub(m.startTime)
}

// LoadingElapsed returns the time spent on the current loading surface.
func (m Model) LoadingElapsed() time.Duration {
	if d := m.now.Sub(m.loadingSince); d > 0 {
		return d
	}
	return 0
}

// StartupProgress returns the share of the startup deadline used (0.0 to 1.0).
func (m Model) StartupProgress() float64 {
	if m.startupTimeout <= 0 {
		return 0
	}
	p := float64(m.LoadingElapsed()) / float64(m.startupTimeout)
	if p > 1 {
		p = 1
	}
	return p
}

// Uptime returns how long the ready backend has been running.
func (m Model) Uptime() time.Duration {
	if m.ready.StartedAt.IsZero() {
		return 0
	}
	if d := m.now.Sub(m.ready.StartedAt); d > 0 {
		return d
	}
	return 0
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
