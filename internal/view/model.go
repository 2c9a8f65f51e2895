// Package view is the optional live TUI: the same occurrence stream the
// plain renderer prints, in an alt-screen viewport with scrollback.
package view

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/relay/internal/reduce"
	"github.com/abelbrown/relay/internal/render"
)

// Update is one delivery from the pipeline to the view.
type Update struct {
	Occ   *reduce.Occurrence
	Fresh bool
}

type streamClosedMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(render.ColorAccentBlue).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(render.ColorTextMuted).
			Padding(0, 1)
)

const maxCards = 500

// Model is the bubbletea model for the live view.
type Model struct {
	updates <-chan Update

	spinner  spinner.Model
	viewport viewport.Model

	cards    []string
	seen     int
	finished bool
	ready    bool
}

// New creates the model. Read updates until the channel closes.
func New(updates <-chan Update) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(render.ColorAccentBlue)
	return Model{
		updates: updates,
		spinner: sp,
	}
}

// Run drives the TUI until the user quits.
func Run(updates <-chan Update) error {
	p := tea.NewProgram(New(updates), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.updates))
}

func waitForUpdate(ch <-chan Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return u
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-2)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 2
		}
		m.refresh()
		return m, nil

	case Update:
		m.apply(msg)
		return m, waitForUpdate(m.updates)

	case streamClosedMsg:
		m.finished = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// apply renders the occurrence into the card list. Repeats replace the
// last card in place rather than appending.
func (m *Model) apply(u Update) {
	var sb strings.Builder
	render.New(&sb, m.viewport.Width).Render(u.Occ, true)
	card := strings.TrimRight(sb.String(), "\n")
	if u.Occ.Count > 1 {
		card += statusStyle.Render(" ×" + strconv.Itoa(u.Occ.Count))
	}

	if u.Fresh || len(m.cards) == 0 {
		m.cards = append(m.cards, card)
		m.seen++
		if len(m.cards) > maxCards {
			m.cards = m.cards[len(m.cards)-maxCards:]
		}
	} else {
		m.cards[len(m.cards)-1] = card
	}
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.cards, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	if !m.ready {
		return "starting…"
	}
	status := m.spinner.View() + " streaming"
	if m.finished {
		status = "✓ stream ended — q to quit"
	}
	return titleStyle.Render("relay") + " " + statusStyle.Render(strconv.Itoa(m.seen)+" occurrences") + "\n" +
		m.viewport.View() + "\n" +
		statusStyle.Render(status)
}
