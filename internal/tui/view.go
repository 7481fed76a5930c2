package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-backend-launcher/internal/app"
)

// loadingDiagnostics is how many stderr lines the loading surface shows.
const loadingDiagnostics = 3

// =============================================================================
// Surfaces
// =============================================================================

// renderLoadingView renders the startup progress.
func (m Model) renderLoadingView() string {
	barWidth := m.width - 16
	if barWidth < 20 {
		barWidth = 20
	}

	lines := []string{
		sectionHeaderStyle.Render("Starting Backend"),
		m.spinner.View() + " " + describeState(m.state),
		"",
		RenderKeyValue("Elapsed", formatDuration(m.LoadingElapsed())),
	}
	if m.startupTimeout > 0 {
		lines = append(lines,
			RenderKeyValue("Deadline", m.startupTimeout.String()),
			RenderProgressBar(m.StartupProgress(), barWidth),
		)
	}
	if recent := tail(m.diagnostics, loadingDiagnostics); len(recent) > 0 {
		lines = append(lines, "")
		for _, line := range recent {
			lines = append(lines, dimStyle.Render(m.clip(line)))
		}
	}

	return m.page(
		boxStyle.Width(m.width-2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		[]string{"r: restart", "w: close window", "q: quit"},
	)
}

// renderMainView renders the ready backend.
func (m Model) renderMainView() string {
	lines := []string{
		sectionHeaderStyle.Render("Backend"),
		statusOK.Render("✓ Backend ready"),
		"",
		RenderKeyValue("Endpoint", m.ready.Endpoint),
		RenderKeyValue("PID", fmt.Sprintf("%d", m.ready.PID)),
		RenderKeyValue("Uptime", formatDuration(m.Uptime())),
		RenderKeyValue("Startup", m.ready.Startup.Round(time.Millisecond).String()),
	}
	if m.ready.LaunchID != "" {
		lines = append(lines, RenderKeyValue("Launch", m.ready.LaunchID))
	}

	return m.page(
		boxStyle.Width(m.width-2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		[]string{"r: show", "w: close window", "q: quit"},
	)
}

// renderFailureView renders the fatal error and the latest backend output.
func (m Model) renderFailureView() string {
	lines := []string{
		statusError.Render("✗ " + app.FatalStartupMessage),
		"",
	}
	if m.err != nil {
		lines = append(lines, RenderKeyValue("Error", m.clip(m.err.Error())))
	}
	if len(m.diagnostics) > 0 {
		lines = append(lines, "", mutedStyle.Render("Recent backend output:"))
		for _, line := range m.diagnostics {
			lines = append(lines, dimStyle.Render("  "+m.clip(line)))
		}
	}

	return m.page(
		errorBoxStyle.Width(m.width-2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		[]string{"any key: exit"},
	)
}

// renderDormantView renders the closed-window state.
func (m Model) renderDormantView() string {
	lines := []string{
		statusWarning.Render("● All windows closed"),
		mutedStyle.Render("The backend has been stopped."),
	}

	return m.page(
		boxStyle.Width(m.width-2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		[]string{"r: relaunch", "q: quit"},
	)
}

// page frames body with the header and a footer listing shortcuts.
func (m Model) page(body string, shortcuts []string) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderFooter(shortcuts),
	)
}

// =============================================================================
// Header & Footer
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-backend-launcher │ %s │ Elapsed: %s ",
		StateLabel(m.state),
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

func (m Model) renderFooter(shortcuts []string) string {
	return footerStyle.Render(dimStyle.Render(strings.Join(shortcuts, " │ ")))
}

// =============================================================================
// Helpers
// =============================================================================

// clip shortens line to fit inside a box.
func (m Model) clip(line string) string {
	limit := m.width - 8
	if limit < 20 {
		limit = 20
	}
	if r := []rune(line); len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return line
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
