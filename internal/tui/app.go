// Package tui is the terminal chat surface: a conversation list, a chat
// view, and a status bar with the aggregate unread badge. The sync engine
// does the work; the TUI renders its state and forwards user intent.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattisv/tradetalk/internal/directory"
	"github.com/mattisv/tradetalk/internal/events"
	"github.com/mattisv/tradetalk/internal/session"
	"github.com/mattisv/tradetalk/internal/unread"
)

const (
	refreshInterval = time.Second
	eventBufferSize = 64

	appSubscriptionID = "tui-app"
)

type Theme string

const (
	ThemeDefault Theme = "default"
	ThemeDark    Theme = "dark"
	ThemeLight   Theme = "light"
)

type ViewID string

const (
	ViewConversations ViewID = "conversations"
	ViewChat          ViewID = "chat"
)

// Config carries display settings.
type Config struct {
	Theme          string
	ShowTimestamps bool
	CompactMode    bool
}

// Deps are the engine components the TUI renders.
type Deps struct {
	Session   *session.Session
	Directory *directory.Cache
	Unread    *unread.Counter
	Bus       events.Bus

	// Entry, when set, routes straight into the payment-flow resolver on
	// startup instead of the conversation list.
	Entry *session.PaymentEntry
}

type viewModel interface {
	Init() tea.Cmd
	Update(msg tea.Msg) tea.Cmd
	View(width, height int, theme Theme) string
}

// Messages shared across views.
type tickMsg struct{}

type engineEventMsg struct {
	event *events.Event
	ok    bool
}

type conversationOpenedMsg struct {
	conversationID string
	err            error
}

type pushViewMsg struct{ id ViewID }
type popViewMsg struct{}

func pushViewCmd(id ViewID) tea.Cmd {
	return func() tea.Msg { return pushViewMsg{id: id} }
}

func popViewCmd() tea.Cmd {
	return func() tea.Msg { return popViewMsg{} }
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Model is the root bubbletea model.
type Model struct {
	cfg  Config
	deps Deps

	theme Theme

	width  int
	height int

	viewStack []ViewID
	views     map[ViewID]viewModel

	eventCh chan *events.Event

	statusLine string
}

// NewModel builds the root model and subscribes it to engine events.
func NewModel(cfg Config, deps Deps) (*Model, error) {
	theme := Theme(cfg.Theme)
	switch theme {
	case "", ThemeDefault:
		theme = ThemeDefault
	case ThemeDark, ThemeLight:
	default:
		return nil, fmt.Errorf("invalid theme %q", cfg.Theme)
	}

	m := &Model{
		cfg:       cfg,
		deps:      deps,
		theme:     theme,
		viewStack: []ViewID{ViewConversations},
		views:     make(map[ViewID]viewModel),
		eventCh:   make(chan *events.Event, eventBufferSize),
	}

	if deps.Bus != nil {
		err := deps.Bus.Subscribe(appSubscriptionID, events.Filter{}, func(event *events.Event) {
			select {
			case m.eventCh <- event:
			default:
				// Rendering lags behind; the next tick repaints anyway.
			}
		})
		if err != nil {
			return nil, err
		}
	}

	m.views[ViewConversations] = newConversationsView(deps)
	m.views[ViewChat] = newChatView(deps, cfg.ShowTimestamps)
	return m, nil
}

// Run drives a full TUI session. Focus reporting is enabled so regaining
// the terminal re-marks the open conversation as read.
func Run(cfg Config, deps Deps) error {
	model, err := NewModel(cfg, deps)
	if err != nil {
		return err
	}
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	_, err = program.Run()
	return err
}

// Close detaches the model from the engine.
func (m *Model) Close() {
	if m.deps.Bus != nil {
		_ = m.deps.Bus.Unsubscribe(appSubscriptionID)
	}
	if m.deps.Session != nil {
		m.deps.Session.Close()
	}
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(), m.listenCmd()}

	if m.deps.Entry != nil {
		cmds = append(cmds, m.enterFromPaymentCmd(*m.deps.Entry))
	}
	if view := m.activeView(); view != nil {
		cmds = append(cmds, view.Init())
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		return m, nil

	case tea.FocusMsg:
		return m, m.focusRegainedCmd()

	case tea.BlurMsg:
		return m, nil

	case tickMsg:
		cmd := tickCmd()
		if active := m.activeView(); active != nil {
			return m, tea.Batch(cmd, active.Update(msg))
		}
		return m, cmd

	case engineEventMsg:
		if !typed.ok {
			return m, nil
		}
		cmds := []tea.Cmd{m.listenCmd()}
		if active := m.activeView(); active != nil {
			if cmd := active.Update(msg); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
		return m, tea.Batch(cmds...)

	case conversationOpenedMsg:
		if typed.err != nil {
			m.statusLine = fmt.Sprintf("could not open conversation: %v", typed.err)
			return m, nil
		}
		m.statusLine = ""
		m.pushView(ViewChat)
		if view := m.activeView(); view != nil {
			return m, view.Init()
		}
		return m, nil

	case pushViewMsg:
		m.pushView(typed.id)
		if view := m.activeView(); view != nil {
			return m, view.Init()
		}
		return m, nil

	case popViewMsg:
		m.popView()
		if view := m.activeView(); view != nil {
			return m, view.Init()
		}
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(typed); handled {
			return m, cmd
		}
	}

	if active := m.activeView(); active != nil {
		return m, active.Update(msg)
	}
	return m, nil
}

func (m *Model) View() string {
	header := m.renderHeader()
	footer := m.renderFooter()

	contentHeight := m.height - lipgloss.Height(header) - lipgloss.Height(footer)
	if contentHeight < 0 {
		contentHeight = 0
	}

	body := "no active view"
	if active := m.activeView(); active != nil {
		body = active.View(m.width, contentHeight, m.theme)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true
	case "q":
		// The chat view owns plain letters while the input is active.
		if m.activeViewID() == ViewConversations {
			return tea.Quit, true
		}
	}
	return nil, false
}

func (m *Model) activeView() viewModel {
	return m.views[m.activeViewID()]
}

func (m *Model) activeViewID() ViewID {
	if len(m.viewStack) == 0 {
		return ViewConversations
	}
	return m.viewStack[len(m.viewStack)-1]
}

func (m *Model) pushView(id ViewID) {
	if id == "" {
		return
	}
	if _, ok := m.views[id]; !ok {
		return
	}
	if m.activeViewID() == id {
		return
	}
	m.viewStack = append(m.viewStack, id)
}

func (m *Model) popView() {
	if len(m.viewStack) <= 1 {
		return
	}
	leaving := m.activeViewID()
	m.viewStack = m.viewStack[:len(m.viewStack)-1]

	if leaving == ViewChat && m.deps.Session != nil {
		m.deps.Session.Close()
	}
}

func (m *Model) renderHeader() string {
	left := lipgloss.NewStyle().Bold(true).Render("tradetalk")

	badge := ""
	if m.deps.Unread != nil {
		if total := m.deps.Unread.Total(); total > 0 {
			badge = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("160")).
				Padding(0, 1).
				Render(fmt.Sprintf("%d unread", total))
		}
	}

	line := left
	spaces := m.width - lipgloss.Width(line) - lipgloss.Width(badge)
	if spaces < 1 {
		spaces = 1
	}
	return line + strings.Repeat(" ", spaces) + badge
}

func (m *Model) renderFooter() string {
	hint := "[Enter] open  [↑↓] navigate  [Esc] back  q quit"
	if m.activeViewID() == ViewChat {
		hint = "[Enter] send  [Esc] back  ctrl+c quit"
	}
	if m.statusLine != "" {
		hint = m.statusLine
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	text := style.Render(hint)
	if lipgloss.Width(text) > m.width && m.width > 0 {
		return style.Render("Esc back  q quit")
	}
	return text
}

func (m *Model) listenCmd() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.eventCh
		return engineEventMsg{event: event, ok: ok}
	}
}

func (m *Model) focusRegainedCmd() tea.Cmd {
	sess := m.deps.Session
	if sess == nil {
		return nil
	}
	return func() tea.Msg {
		sess.FocusRegained(context.Background())
		return nil
	}
}

func (m *Model) enterFromPaymentCmd(entry session.PaymentEntry) tea.Cmd {
	sess := m.deps.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		convID, err := sess.EnterFromPayment(ctx, entry)
		return conversationOpenedMsg{conversationID: convID, err: err}
	}
}
