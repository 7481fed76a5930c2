package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-backend-launcher/internal/app"
	"github.com/randomizedcoder/go-backend-launcher/internal/supervisor"
)

// Presenter drives a Bubble Tea program from app events. Every method hands
// a message to the program; once the program has exited they return at once.
type Presenter struct {
	program *tea.Program
}

// NewPresenter creates the program for model.
func NewPresenter(model Model, opts ...tea.ProgramOption) *Presenter {
	return &Presenter{program: tea.NewProgram(model, opts...)}
}

// Run runs the program until Close or the program quits.
func (p *Presenter) Run() error {
	_, err := p.program.Run()
	return err
}

func (p *Presenter) Loading() {
	p.program.Send(LoadingMsg{})
}

func (p *Presenter) Ready(info app.ReadyInfo) {
	p.program.Send(ReadyMsg{Info: info})
}

func (p *Presenter) Failed(err error) {
	p.program.Send(FailedMsg{Err: err})
}

func (p *Presenter) Diagnostic(line string) {
	p.program.Send(DiagnosticMsg{Line: line})
}

func (p *Presenter) Dormant() {
	p.program.Send(DormantMsg{})
}

func (p *Presenter) StateChanged(state supervisor.State) {
	p.program.Send(StateMsg{State: state})
}

// Close ends the program.
func (p *Presenter) Close() {
	p.program.Send(QuitMsg{})
}

var (
	_ app.Presenter     = (*Presenter)(nil)
	_ app.StateObserver = (*Presenter)(nil)
)
