// Package tui implements the `attach` dashboard (spec §6): a live view
// over the currently running session's scrollback and supervision
// status. Grounded on the bubbletea Model/Update/View convention used
// throughout the charmbracelet examples in the retrieval pack; this
// engine has no prior TUI of its own to adapt, so the shape follows
// the library's own idiomatic pattern rather than a teacher file.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// engineView is the minimal slice of *app.Engine the dashboard reads;
// kept as an interface so tests can stub it without standing up a
// full Engine.
type engineView interface {
	Status() (active bool, statusLine string, scrollback string)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

type tickMsg time.Time

type model struct {
	engine   engineView
	viewport viewport.Model
	status   string
	ready    bool
}

func newModel(engine engineView) model {
	return model{engine: engine}
}

func (m model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tickMsg:
		active, status, scrollback := m.engine.Status()
		if active {
			m.status = status
		} else {
			m.status = "no active session"
		}
		if m.ready {
			m.viewport.SetContent(renderScrollback(scrollback))
			m.viewport.GotoBottom()
		}
		return m, tick()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "initializing..."
	}
	header := headerStyle.Render("bender attach") + "  " + statusStyle.Render(m.status)
	return fmt.Sprintf("%s\n\n%s", header, m.viewport.View())
}

// renderScrollback renders the tail of scrollback through glamour when
// it looks like markdown-ish prose (contains a fenced block or a
// heading), falling back to plain text otherwise — most worker output
// is terminal text, not markdown, so this is a light touch rather than
// a hard requirement.
func renderScrollback(scrollback string) string {
	if strings.Contains(scrollback, "```") || strings.Contains(scrollback, "\n# ") {
		if rendered, err := glamour.Render(scrollback, "dark"); err == nil {
			return rendered
		}
	}
	return scrollback
}
