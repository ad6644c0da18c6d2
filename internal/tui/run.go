package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

const lineBuffer = 256

// Dashboard runs the live view in the alternate screen. Activity lines are
// handed over through Tap, which never blocks the caller.
type Dashboard struct {
	program *tea.Program
	lines   chan string
}

// NewDashboard prepares the program.
func NewDashboard(opts Options, progOpts ...tea.ProgramOption) *Dashboard {
	if len(progOpts) == 0 {
		progOpts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &Dashboard{
		program: tea.NewProgram(NewModel(opts), progOpts...),
		lines:   make(chan string, lineBuffer),
	}
}

// Tap accepts an activity line. Lines are dropped while the view is behind.
func (d *Dashboard) Tap(line string) {
	select {
	case d.lines <- line:
	default:
	}
}

// Done ends the view once the run has finished.
func (d *Dashboard) Done() {
	d.program.Send(DoneMsg{})
}

// Run blocks until the user quits or Done is called. It reports whether the
// user stopped the run.
func (d *Dashboard) Run(ctx context.Context) (bool, error) {
	fwdCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		for {
			select {
			case <-fwdCtx.Done():
				return
			case l := <-d.lines:
				d.program.Send(LineMsg(l))
			}
		}
	}()

	final, err := d.program.Run()
	if err != nil {
		return false, err
	}
	m, _ := final.(Model)
	return m.Cancelled(), nil
}
