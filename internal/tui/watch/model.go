package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/croplab/fieldrun/internal/events"
	"github.com/croplab/fieldrun/internal/workspace"
)

type eventMsg events.Event

type tickMsg time.Time

// Model is the main BubbleTea model for the watch TUI. It consumes the
// workspace event hub in-process; the run itself executes on another
// goroutine.
type Model struct {
	hub      *events.Hub
	progress func() workspace.Progress

	width  int
	height int

	runID    string
	snapshot workspace.Progress
	eventLog []events.Event
	finished bool

	bar     progress.Model
	spin    spinner.Model
	theme   Theme
	started time.Time

	hubEvents <-chan events.Event
	cancelSub func()
}

// New creates a watch model over the hub and a progress snapshot source.
func New(hub *events.Hub, snapshot func() workspace.Progress) *Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &Model{
		hub:      hub,
		progress: snapshot,
		bar:      progress.New(progress.WithDefaultGradient()),
		spin:     spin,
		theme:    NewDefaultTheme(),
		started:  time.Now(),
	}
}

func (m *Model) Init() tea.Cmd {
	m.hubEvents, m.cancelSub = m.hub.Subscribe()
	return tea.Batch(
		m.spin.Tick,
		receiveNextEvent(m.hubEvents),
		tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancelSub != nil {
				m.cancelSub()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 8

	case tickMsg:
		m.snapshot = m.progress()
		if m.finished {
			if m.cancelSub != nil {
				m.cancelSub()
			}
			return m, tea.Quit
		}
		return m, tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 30 {
			m.eventLog = m.eventLog[:30]
		}
		switch e.Type {
		case events.TypeRunStarted:
			if re, ok := e.Data.(events.RunEvent); ok {
				m.runID = re.RunID
			}
		case events.TypeRunFinished:
			m.finished = true
		}
		m.snapshot = m.progress()
		return m, receiveNextEvent(m.hubEvents)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Starting batch..."
	}

	p := m.snapshot
	done := p.Completed + p.Failed + p.TimedOut
	ratio := 0.0
	if p.Selected > 0 {
		ratio = float64(done) / float64(p.Selected)
	}

	title := m.theme.Title.Render("FIELDRUN BATCH")
	runLine := m.theme.Dim.Render(fmt.Sprintf(" run %s  elapsed %s",
		m.runID, time.Since(m.started).Round(time.Second)))

	var state string
	if m.finished {
		state = m.theme.StatusOK.Render("done")
	} else {
		state = m.spin.View() + m.theme.StatusRunning.Render("running")
	}

	counts := fmt.Sprintf(" %s  %d/%d sites   %s %d   %s %d   %s %d",
		state, done, p.Selected,
		m.theme.StatusOK.Render("completed"), p.Completed,
		m.theme.StatusFailed.Render("failed"), p.Failed,
		m.theme.StatusTimedOut.Render("timed out"), p.TimedOut,
	)

	bar := " " + m.bar.ViewAs(ratio)

	parts := []string{
		title,
		runLine,
		counts,
		bar,
		renderEventStream(m.eventLog, m.theme, m.width),
		m.theme.Dim.Render(" [q] Quit"),
	}

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENTS"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".completed"), strings.HasSuffix(e.Type, ".finished"):
		typeStyle = theme.StatusOK
	case strings.HasSuffix(e.Type, ".failed"):
		typeStyle = theme.StatusFailed
	case strings.HasSuffix(e.Type, ".timed_out"):
		typeStyle = theme.StatusTimedOut
	case strings.HasSuffix(e.Type, ".started"):
		typeStyle = theme.StatusRunning
	default:
		typeStyle = theme.Dim
	}
	typeName := typeStyle.Render(fmt.Sprintf("%-16s", e.Type))

	var detail string
	switch d := e.Data.(type) {
	case events.TaskEvent:
		detail = d.SiteID
	case events.RunEvent:
		detail = fmt.Sprintf("%d sites", d.Selected)
	}

	return fmt.Sprintf("%s %s %s", ts, typeName, theme.Highlight.Render(detail))
}
