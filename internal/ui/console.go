package ui

import (
	"context"
	"strings"

	"github.com/BioHazard786/devicehub/internal/registry"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const maxLogLines = 500

type eventMsg registry.Event

type resultMsg struct {
	cmd string
	out Output
	err error
}

type sessionEndedMsg struct{}

// consoleModel is the interactive console shared by hosts and guests.
type consoleModel struct {
	ctx     context.Context
	ctrl    Controller
	input   textinput.Model
	spinner spinner.Model
	lines   []string
	busy    string
	height  int
	width   int
	done    bool
}

func newConsoleModel(ctx context.Context, ctrl Controller) *consoleModel {
	ti := textinput.New()
	ti.Prompt = PromptStyle.Render(ctrl.Role() + " › ")
	ti.Placeholder = "type help for commands"
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &consoleModel{
		ctx:     ctx,
		ctrl:    ctrl,
		input:   ti,
		spinner: s,
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listen())
}

func (m *consoleModel) listen() tea.Cmd {
	events := m.ctrl.Events()
	return func() tea.Msg {
		select {
		case ev := <-events:
			return eventMsg(ev)
		case <-m.ctx.Done():
			return sessionEndedMsg{}
		}
	}
}

func (m *consoleModel) exec(line string) tea.Cmd {
	args := strings.Fields(line)
	return func() tea.Msg {
		out, err := m.ctrl.Exec(m.ctx, args)
		return resultMsg{cmd: line, out: out, err: err}
	}
}

func (m *consoleModel) appendLines(text string) {
	if text == "" {
		return
	}
	m.lines = append(m.lines, strings.Split(text, "\n")...)
	if over := len(m.lines) - maxLogLines; over > 0 {
		m.lines = m.lines[over:]
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" || m.busy != "" {
				return m, nil
			}
			m.appendLines(MutedStyle.Render("› " + line))
			m.busy = line
			return m, m.exec(line)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-len(m.ctrl.Role())-6)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.appendLines(m.ctrl.Describe(registry.Event(msg)))
		return m, m.listen()

	case resultMsg:
		m.busy = ""
		if msg.err != nil {
			m.appendLines(FormatError(msg.err))
			return m, nil
		}
		if msg.out.Grid != nil {
			m.appendLines(msg.out.Grid.View())
		}
		m.appendLines(msg.out.Text)
		if msg.out.Quit {
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case sessionEndedMsg:
		m.done = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *consoleModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(StatusStyle.Render(strings.ToUpper(m.ctrl.Role())))
	b.WriteString(" ")
	b.WriteString(m.ctrl.Header())
	b.WriteString("\n\n")

	lines := m.lines
	if m.height > 0 {
		if room := m.height - 6; room > 0 && len(lines) > room {
			lines = lines[len(lines)-room:]
		}
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.busy != "" {
		b.WriteString(m.spinner.View() + " " + MutedStyle.Render(m.busy))
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n" + FooterStyle.Render("ctrl+c to leave"))
	return b.String()
}

// RunConsole runs the interactive console until the user quits or ctx ends.
func RunConsole(ctx context.Context, ctrl Controller) error {
	p := tea.NewProgram(newConsoleModel(ctx, ctrl), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
