package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the attach dashboard against engine, blocking until the
// user quits (q/esc/ctrl+c). engine only needs a Status method, so
// *app.Engine satisfies engineView without this package importing app.
func Run(engine engineView) error {
	p := tea.NewProgram(newModel(engine), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
