package app

import (
	"log/slog"

	"github.com/randomizedcoder/go-backend-launcher/internal/supervisor"
)

// FatalStartupMessage is shown to the user when the backend cannot be started.
const FatalStartupMessage = "Failed to start the backend service. Please check your Java installation."

// Headless is a Presenter without a screen: every transition is logged and
// a failure requests quit, so the launcher exits non-zero.
type Headless struct {
	logger   *slog.Logger
	controls Controls
}

// NewHeadless creates a headless presenter reporting to logger.
func NewHeadless(logger *slog.Logger, controls Controls) *Headless {
	return &Headless{logger: logger, controls: controls}
}

func (h *Headless) Loading() {
	h.logger.Info("presenter_loading")
}

func (h *Headless) Ready(info ReadyInfo) {
	h.logger.Info("presenter_ready",
		"endpoint", info.Endpoint,
		"pid", info.PID,
		"launch_id", info.LaunchID,
		"startup", info.Startup.String(),
	)
}

func (h *Headless) Failed(err error) {
	h.logger.Error("presenter_failed", "message", FatalStartupMessage, "error", err)
	h.controls.RequestQuit()
}

// Diagnostic is a no-op: stderr lines are already logged by the app.
func (h *Headless) Diagnostic(string) {}

func (h *Headless) Dormant() {
	h.logger.Info("presenter_dormant")
}

func (h *Headless) StateChanged(state supervisor.State) {
	h.logger.Debug("presenter_state", "state", state.String())
}

func (h *Headless) Close() {}

var (
	_ Presenter     = (*Headless)(nil)
	_ StateObserver = (*Headless)(nil)
	_ Controls      = (*App)(nil)
)
