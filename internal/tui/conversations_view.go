package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/events"
)

// conversationsView lists the directory newest-activity first with
// per-conversation unread counts.
type conversationsView struct {
	deps Deps

	conversations []chat.Conversation
	selected      int
}

func newConversationsView(deps Deps) *conversationsView {
	return &conversationsView{deps: deps}
}

func (v *conversationsView) Init() tea.Cmd {
	v.reload()
	return nil
}

func (v *conversationsView) Update(msg tea.Msg) tea.Cmd {
	switch typed := msg.(type) {
	case tickMsg:
		v.reload()
		return nil
	case engineEventMsg:
		if typed.event != nil && typed.event.Type == events.TypeDirectoryRefreshed {
			v.reload()
		}
		return nil
	case tea.KeyMsg:
		return v.handleKey(typed)
	default:
		return nil
	}
}

func (v *conversationsView) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if v.selected > 0 {
			v.selected--
		}
	case "down", "j":
		if v.selected < len(v.conversations)-1 {
			v.selected++
		}
	case "r":
		return v.refreshCmd()
	case "enter":
		if v.selected < len(v.conversations) {
			return v.openCmd(v.conversations[v.selected].ID)
		}
	}
	return nil
}

func (v *conversationsView) View(width, height int, theme Theme) string {
	if v.deps.Directory != nil && !v.deps.Directory.Loaded() {
		return "loading conversations..."
	}
	if len(v.conversations) == 0 {
		return "no conversations yet"
	}

	if height < 1 {
		height = 1
	}

	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Bold(true)
	now := time.Now()

	lines := make([]string, 0, minInt(height, len(v.conversations)))
	for i := 0; i < len(v.conversations) && len(lines) < height; i++ {
		conv := v.conversations[i]

		prefix := "  "
		if i == v.selected {
			prefix = "▸ "
		}

		name := conv.Counterparty.DisplayName
		if name == "" {
			name = "unknown contact"
		}
		title := conv.Counterparty.JobTitle

		badge := ""
		if conv.UnreadCount > 0 {
			badge = fmt.Sprintf(" (%d)", conv.UnreadCount)
		}

		line := fmt.Sprintf("%s%-20s %s%s", prefix, truncate(name, 20), truncate(title, maxInt(0, width-34)), badge)
		age := relTime(now, conv.LastActivityAt)
		spaces := width - lipgloss.Width(line) - lipgloss.Width(age)
		if spaces > 0 {
			line += strings.Repeat(" ", spaces) + muted.Render(age)
		}

		if i == v.selected {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func (v *conversationsView) reload() {
	if v.deps.Directory == nil {
		return
	}
	v.conversations = v.deps.Directory.Snapshot()
	if v.selected >= len(v.conversations) {
		v.selected = maxInt(0, len(v.conversations)-1)
	}
}

func (v *conversationsView) refreshCmd() tea.Cmd {
	dir := v.deps.Directory
	if dir == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = dir.Refresh(ctx)
		return nil
	}
}

func (v *conversationsView) openCmd(conversationID string) tea.Cmd {
	sess := v.deps.Session
	if sess == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := sess.Open(ctx, conversationID)
		return conversationOpenedMsg{conversationID: conversationID, err: err}
	}
}

func relTime(now time.Time, ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	d := now.Sub(ts)
	if d < time.Minute {
		return "now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// truncate shortens to display cells, never mid-rune. Callers pass plain
// text; styling is applied after layout.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 3 {
		return runewidth.Truncate(s, max, "")
	}
	return runewidth.Truncate(s, max, "...")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
