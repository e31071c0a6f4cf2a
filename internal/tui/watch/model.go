package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/codemig/internal/events"
)

// Model is the BubbleTea model for the batch watch view.
type Model struct {
	width  int
	height int

	batch    BatchState
	units    map[string]*UnitState
	eventLog []events.Event

	spinner  spinner.Model
	progress progress.Model
	theme    Theme

	feed       <-chan events.Event
	quitOnDone bool

	// Remote mode only.
	ctx      context.Context
	apiURL   string
	token    string
	lastID   *int64
	remoteCh chan events.Event

	connected bool
	lastError string
}

func newModel() Model {
	return Model{
		units:     make(map[string]*UnitState),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		theme:     NewDefaultTheme(),
		connected: true,
	}
}

// NewLocal watches a hub subscription. The view quits once the batch
// completes if quitOnDone is set.
func NewLocal(feed <-chan events.Event, quitOnDone bool) Model {
	m := newModel()
	m.feed = feed
	m.quitOnDone = quitOnDone
	return m
}

// NewRemote watches the /events stream of a running `codemig serve`.
func NewRemote(ctx context.Context, apiURL, token string) Model {
	m := newModel()
	ch := make(chan events.Event, 256)
	m.ctx = ctx
	m.apiURL = apiURL
	m.token = token
	m.lastID = new(int64)
	m.remoteCh = ch
	m.feed = ch
	m.connected = false
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		receiveNextEvent(m.feed),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	}
	if m.remoteCh != nil {
		cmds = append(cmds, subscribeToEvents(m.ctx, m.apiURL, m.token, m.lastID, m.remoteCh))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m = m.record(events.Event(msg))
		if m.batch.Done && m.quitOnDone {
			return m, tea.Quit
		}
		return m, receiveNextEvent(m.feed)

	case feedClosedMsg:
		if m.quitOnDone {
			return m, tea.Quit
		}

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		if m.remoteCh == nil {
			return m, nil
		}
		return m, subscribeToEvents(m.ctx, m.apiURL, m.token, m.lastID, m.remoteCh)
	}

	return m, nil
}

// record folds e into the view state.
func (m Model) record(e events.Event) Model {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}
	apply(&m.batch, m.units, e)
	m.connected = true
	m.lastError = ""
	return m
}

// Batch returns the tracked batch state.
func (m Model) Batch() BatchState { return m.batch }

// Units returns the tracked state of every unit seen so far.
func (m Model) Units() map[string]*UnitState { return m.units }

func (m Model) View() string {
	if m.width == 0 {
		return "Waiting for batch..."
	}

	unitRows := m.height - 20
	if unitRows < 5 {
		unitRows = 5
	}

	spin := m.spinner.View()
	parts := []string{
		renderHeader(m.batch, m.units, m.progress, spin, m.connected, m.theme, m.width),
		renderUnits(m.units, spin, m.theme, m.width, unitRows),
		renderEventStream(m.eventLog, m.theme, m.width, 8),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Fail.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
