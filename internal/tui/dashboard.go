// Package tui renders a live dashboard for a run: task states, agent
// output, and the human gate prompt when the scheduler needs a
// decision. It follows The Elm Architecture via bubbletea: the model
// holds all state, Update folds messages in, View renders a string.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/elisa-dev/elisa/internal/events"
)

const outputTail = 8

// GateResolver is the slice of the scheduler the dashboard needs to
// answer human gates.
type GateResolver interface {
	ResolveGate(taskID string, approved bool, feedback string) error
	PendingGates() []string
}

type eventMsg struct{ ev events.Event }
type streamClosedMsg struct{}

type taskRow struct {
	id      string
	agent   string
	status  string
	summary string
	retries int
}

// Model is the dashboard state.
type Model struct {
	sub      <-chan events.Event
	resolver GateResolver
	cancel   context.CancelFunc

	spinner  spinner.Model
	feedback textinput.Model

	order   []string
	tasks   map[string]*taskRow
	outputs []string

	gate      *events.HumanGate
	rejecting bool

	runSummary string
	runErr     string
	finished   bool
	width      int
}

// New builds a dashboard model over a bus subscription. cancel is
// invoked when the user quits mid-run.
func New(bus *events.Bus, resolver GateResolver, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	input := textinput.New()
	input.Placeholder = "what should change?"
	input.CharLimit = 500

	return Model{
		sub:      bus.SubscribeAll(256),
		resolver: resolver,
		cancel:   cancel,
		spinner:  sp,
		feedback: input,
		tasks:    make(map[string]*taskRow),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.sub))
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{ev}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(msg.ev)
		return m, waitForEvent(m.sub)

	case streamClosedMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Feedback entry captures everything except enter and escape.
	if m.rejecting {
		switch msg.Type {
		case tea.KeyEnter:
			if m.gate != nil {
				m.resolver.ResolveGate(m.gate.ID, false, m.feedback.Value())
			}
			m.gate = nil
			m.rejecting = false
			m.feedback.Reset()
			return m, nil
		case tea.KeyEsc:
			m.rejecting = false
			m.feedback.Reset()
			return m, nil
		default:
			var cmd tea.Cmd
			m.feedback, cmd = m.feedback.Update(msg)
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.cancel != nil {
			m.cancel()
		}
		if m.finished {
			return m, tea.Quit
		}
		return m, nil
	case "a":
		if m.gate != nil {
			m.resolver.ResolveGate(m.gate.ID, true, "")
			m.gate = nil
		}
		return m, nil
	case "r":
		if m.gate != nil {
			m.rejecting = true
			m.feedback.Focus()
			return m, textinput.Blink
		}
		return m, nil
	}
	return m, nil
}

// apply folds one event into the board.
func (m *Model) apply(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskStarted:
		m.row(e.ID).agent = e.AgentName
		m.row(e.ID).status = "in_progress"
	case events.TaskCompleted:
		r := m.row(e.ID)
		r.status = "done"
		r.summary = e.Summary
	case events.TaskFailed:
		r := m.row(e.ID)
		r.status = "failed"
		r.retries = e.RetryCount
		r.summary = e.Error
	case events.AgentOutput:
		m.pushOutput(fmt.Sprintf("[%s] %s", e.AgentName, e.Content))
	case events.AgentMessage:
		m.pushOutput(fmt.Sprintf("%s -> %s: %s", e.From, e.To, e.Content))
	case events.HumanGate:
		gate := e
		m.gate = &gate
	case events.CommitCreated:
		m.pushOutput(fmt.Sprintf("commit %s: %s", e.ShortSHA, e.Message))
	case events.Error:
		m.runErr = e.Message
		if !e.Recoverable {
			m.finished = true
		}
	case events.RunComplete:
		m.runSummary = e.Summary
		m.finished = true
	}
}

func (m *Model) row(id string) *taskRow {
	if r, ok := m.tasks[id]; ok {
		return r
	}
	r := &taskRow{id: id, status: "pending"}
	m.tasks[id] = r
	m.order = append(m.order, id)
	return r
}

func (m *Model) pushOutput(line string) {
	m.outputs = append(m.outputs, line)
	if len(m.outputs) > outputTail {
		m.outputs = m.outputs[len(m.outputs)-outputTail:]
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("elisa build"))
	b.WriteString("\n\n")

	for _, id := range m.order {
		r := m.tasks[id]
		marker := statusMarker(r.status)
		line := fmt.Sprintf("%s %-24s %-12s", marker, id, r.agent)
		if r.status == "in_progress" {
			line = m.spinner.View() + " " + line
		} else {
			line = "  " + line
		}
		if r.summary != "" {
			line += dimStyle.Render(" " + clipLine(r.summary, 60))
		}
		b.WriteString(line + "\n")
	}

	if len(m.outputs) > 0 {
		b.WriteString("\n" + sectionStyle.Render("output") + "\n")
		for _, line := range m.outputs {
			b.WriteString(dimStyle.Render(clipLine(line, 100)) + "\n")
		}
	}

	if m.gate != nil {
		b.WriteString("\n" + gateStyle.Render(fmt.Sprintf(
			"Task %s failed %d times. %s", m.gate.ID, m.gate.RetryCount, m.gate.Question)) + "\n")
		if m.rejecting {
			b.WriteString("Feedback: " + m.feedback.View() + "\n")
			b.WriteString(dimStyle.Render("enter to send, esc to go back") + "\n")
		} else {
			b.WriteString(dimStyle.Render("[a]ccept the failure  [r]equest a revision") + "\n")
		}
	}

	if m.runErr != "" {
		b.WriteString("\n" + errorStyle.Render(m.runErr) + "\n")
	}
	if m.runSummary != "" {
		b.WriteString("\n" + doneStyle.Render(m.runSummary) + "\n")
	}
	if m.finished {
		b.WriteString(dimStyle.Render("\npress q to exit\n"))
	} else {
		b.WriteString(dimStyle.Render("\nq to cancel the run\n"))
	}
	return b.String()
}

func statusMarker(status string) string {
	switch status {
	case "done":
		return doneStyle.Render("✓")
	case "failed":
		return errorStyle.Render("✗")
	case "blocked":
		return dimStyle.Render("⊘")
	case "in_progress":
		return spinnerStyle.Render("▸")
	default:
		return dimStyle.Render("·")
	}
}

func clipLine(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// Run drives the dashboard until the event stream closes or the user
// exits.
func Run(bus *events.Bus, resolver GateResolver, cancel context.CancelFunc) error {
	p := tea.NewProgram(New(bus, resolver, cancel))
	_, err := p.Run()
	return err
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	gateStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)
