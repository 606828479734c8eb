// Package tui is the interactive bubbletea presentation on top of the
// pure render.Model, following bureau-foundation-bureau's lib/ticketui
// layering (a plain model fed domain events through a channel, wrapped by
// a bubbletea tea.Model that owns only layout and styling).
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/fleetshift/deployctl/internal/domain"
	"github.com/fleetshift/deployctl/internal/render"
)

var (
	profile = termenv.ColorProfile()

	stageHeaderStyle = lipgloss.NewStyle().Bold(true)
	doneStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	notDoneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	pendingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	tagStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	bareLineStyle    = lipgloss.NewStyle().Faint(true)
)

// eventMsg wraps one domain.Event for delivery through the bubbletea loop.
type eventMsg domain.Event

// closedMsg signals the event channel has been closed (the apply run
// finished, successfully or not).
type closedMsg struct{}

// Model is the bubbletea program driving the interactive renderer. It
// owns no orchestration logic of its own — it only renders whatever
// render.Model.Process tells it about the events it receives.
type Model struct {
	progressModel *render.Model
	bars          map[string]progress.Model
	events        <-chan domain.Event
	width         int
	closed        bool
	exitErr       error
}

// New builds a Model that reads events from the given channel. Closing
// the channel ends the program (the Quit command fires automatically).
func New(events <-chan domain.Event, clock domain.Clock, noProgressBar map[string]bool) Model {
	return Model{
		progressModel: render.NewModel(clock, noProgressBar),
		bars:          map[string]progress.Model{},
		events:        events,
		width:         80,
	}
}

func listenForEvent(events <-chan domain.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

func (m Model) Init() tea.Cmd {
	return listenForEvent(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		for name, bar := range m.bars {
			bar.Width = barWidth(m.width)
			m.bars[name] = bar
		}

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}

	case eventMsg:
		e := domain.Event(msg)
		m.progressModel.Process(e)
		if _, ok := m.bars[e.Stage]; !ok && !m.progressModel.NoProgressBar[e.Stage] {
			bar := progress.New(progress.WithDefaultGradient())
			bar.Width = barWidth(m.width)
			m.bars[e.Stage] = bar
		}
		return m, listenForEvent(m.events)

	case closedMsg:
		m.closed = true
		return m, tea.Quit
	}
	return m, nil
}

func barWidth(termWidth int) int {
	w := termWidth - 30
	if w < 10 {
		w = 10
	}
	return w
}

func (m Model) View() string {
	if profile == termenv.Ascii {
		var out string
		for _, stage := range m.progressModel.Stages() {
			out += stage.Name + "\n"
		}
		return out
	}
	var out string
	for _, stage := range m.progressModel.Stages() {
		out += m.renderStage(stage)
	}
	return out
}

func (m Model) renderStage(stage *render.StageModel) string {
	header := stage.Name

	if m.progressModel.NoProgressBar[stage.Name] {
		lines := ""
		for _, task := range stage.Tasks() {
			label, style := bareLabel(task.State, stage)
			lines += "  " + style.Render(label) + " " + header + tagSuffix(task.Tags) + ": " + render.TaskLabel(task.Task) + "\n"
		}
		return lines
	}

	title := stageHeaderStyle.Render(header)
	if !stage.Done() {
		title = pendingStyle.Render(header)
	} else {
		switch stage.Disposition() {
		case render.Done:
			title = doneStyle.Render(header)
		case render.NotDone, render.Errored:
			title = notDoneStyle.Render(header)
		}
	}

	current, total := stage.Progress()
	frac := 0.0
	if total > 0 {
		frac = current / float64(total)
	}
	bar, ok := m.bars[stage.Name]
	barView := ""
	if ok {
		barView = bar.ViewAs(frac)
	}

	line := title + "  " + barView
	if eta, ok := stage.ETA(); ok && !stage.Done() {
		line += "  eta " + eta.Format(time.Kitchen)
	}
	if stage.Done() {
		line += "  " + stage.Elapsed().Round(time.Second).String()
	}
	return line + "\n"
}

func bareLabel(state domain.TaskState, stage *render.StageModel) (string, lipgloss.Style) {
	switch state {
	case domain.TaskStarted:
		return "Started", bareLineStyle
	case domain.TaskFinished:
		return "    Done", doneStyle
	case domain.TaskFailed:
		return "  Failed", notDoneStyle
	default:
		return "", bareLineStyle
	}
}

func tagSuffix(tags []string) string {
	s := render.SortedTags(tags)
	if s == "" {
		return ""
	}
	return "[" + tagStyle.Render(s) + "]"
}

// Run starts the bubbletea program and blocks until the event channel
// closes or the user interrupts it.
func Run(events <-chan domain.Event, clock domain.Clock, noProgressBar map[string]bool) error {
	p := tea.NewProgram(New(events, clock, noProgressBar))
	_, err := p.Run()
	return err
}
