package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-bridge/driver"
	"github.com/wippyai/wasm-bridge/pipe"
	"github.com/wippyai/wasm-bridge/sandbox"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxTranscript bounds the lines kept on screen.
const maxTranscript = 200

type interactiveModel struct {
	ctx        context.Context
	err        error
	eng        *sandbox.Engine
	session    *driver.Session
	outcome    *sandbox.Outcome
	send       func(tea.Msg)
	lines      chan string
	name       string
	bin        []byte
	opts       []driver.Option
	transcript []transcriptLine
	input      textinput.Model
	state      modelState
}

type transcriptLine struct {
	text   string
	source lineSource
}

type lineSource int

const (
	fromHost lineSource = iota
	fromStdout
	fromStderr
)

type modelState int

const (
	stateLaunching modelState = iota
	stateRunning
	stateInputClosed
	stateFinished
)

type launchedMsg struct {
	err     error
	session *driver.Session
}

type outputMsg struct {
	line string
}

type finishedMsg struct {
	err     error
	outcome sandbox.Outcome
	stderr  []string
}

func newInteractiveModel(ctx context.Context, eng *sandbox.Engine, bin []byte, name string, opts []driver.Option) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "line for the guest's stdin"
	ti.Width = 60
	ti.Focus()

	return &interactiveModel{
		ctx:   ctx,
		eng:   eng,
		bin:   bin,
		name:  name,
		opts:  opts,
		lines: make(chan string, 1024),
		input: ti,
		state: stateLaunching,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.launch)
}

func (m *interactiveModel) launch() tea.Msg {
	s, err := driver.Launch(m.ctx, m.eng, m.bin, m.opts...)
	return launchedMsg{session: s, err: err}
}

// drive runs the protocol: typed lines feed stdin, stdout lines stream
// back to the program as they arrive.
func (m *interactiveModel) drive() tea.Msg {
	feed := func(ctx context.Context, w *pipe.Writer) error {
		for {
			select {
			case line, ok := <-m.lines:
				if !ok {
					return nil
				}
				if _, err := w.WriteContext(ctx, []byte(line+"\n")); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	drain := func(ctx context.Context, r *pipe.Reader) error {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			m.send(outputMsg{line: sc.Text()})
		}
		return sc.Err()
	}

	out, err := m.session.Drive(m.ctx, feed, drain)
	return finishedMsg{outcome: out, err: err, stderr: m.session.Stderr()}
}

func (m *interactiveModel) closeInput() {
	if m.state == stateRunning {
		close(m.lines)
		m.state = stateInputClosed
	}
}

func (m *interactiveModel) appendLine(text string, src lineSource) {
	m.transcript = append(m.transcript, transcriptLine{text: text, source: src})
	if over := len(m.transcript) - maxTranscript; over > 0 {
		m.transcript = m.transcript[over:]
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.session != nil && m.state != stateFinished {
				m.session.Cancel()
			}
			return m, tea.Quit

		case "q":
			if m.state == stateFinished || m.err != nil {
				return m, tea.Quit
			}

		case "ctrl+d":
			m.closeInput()
			return m, nil

		case "enter":
			if m.state == stateRunning {
				line := m.input.Value()
				m.input.Reset()
				m.appendLine(line, fromHost)
				m.lines <- line
			}
			return m, nil
		}

	case launchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.state = stateRunning
		return m, m.drive

	case outputMsg:
		m.appendLine(msg.line, fromStdout)
		return m, nil

	case finishedMsg:
		for _, line := range msg.stderr {
			m.appendLine(line, fromStderr)
		}
		m.closeInput()
		m.outcome = &msg.outcome
		m.err = msg.err
		m.state = stateFinished
		m.input.Blur()
		return m, nil
	}

	if m.state == stateRunning {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.outcome == nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.state == stateLaunching {
		return "Instantiating sandbox..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Bridge"))
	b.WriteString(" ")
	b.WriteString(m.name)
	if m.session != nil {
		b.WriteString(helpStyle.Render("  " + m.session.ID()))
	}
	b.WriteString("\n\n")

	for _, l := range m.transcript {
		switch l.source {
		case fromHost:
			b.WriteString(inputStyle.Render("> " + l.text))
		case fromStdout:
			b.WriteString(resultStyle.Render(l.text))
		case fromStderr:
			b.WriteString(errorStyle.Render(l.text))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch m.state {
	case stateRunning:
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter send • ctrl+d end input • esc cancel"))

	case stateInputClosed:
		b.WriteString(helpStyle.Render("stdin closed, waiting for the guest • esc cancel"))

	case stateFinished:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Outcome: %s", m.outcome)))
		} else {
			b.WriteString(resultStyle.Render(fmt.Sprintf("Outcome: %s", m.outcome)))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("q quit"))
	}

	return b.String()
}

func runInteractive(ctx context.Context, eng *sandbox.Engine, bin []byte, name string, opts []driver.Option) error {
	m := newInteractiveModel(ctx, eng, bin, name, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.send = p.Send
	_, err := p.Run()
	return err
}
