package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattisv/tradetalk/internal/session"
)

// chatView renders the open conversation: history above, input below, the
// counterparty header on top. The session holds the input draft so a failed
// send keeps the text.
type chatView struct {
	deps           Deps
	showTimestamps bool

	scroll  int // lines from bottom
	sendErr string
	sending bool
}

type sendResultMsg struct {
	err error
}

func newChatView(deps Deps, showTimestamps bool) *chatView {
	return &chatView{deps: deps, showTimestamps: showTimestamps}
}

func (v *chatView) Init() tea.Cmd {
	v.scroll = 0
	v.sendErr = ""
	v.sending = false
	return nil
}

func (v *chatView) Update(msg tea.Msg) tea.Cmd {
	switch typed := msg.(type) {
	case tickMsg:
		return nil
	case engineEventMsg:
		// Messages and degraded state are read from the session at render
		// time; the event only forces a repaint.
		return nil
	case sendResultMsg:
		v.sending = false
		if typed.err != nil {
			v.sendErr = fmt.Sprintf("send failed: %v", typed.err)
		} else {
			v.sendErr = ""
			v.scroll = 0
		}
		return nil
	case tea.KeyMsg:
		return v.handleKey(typed)
	default:
		return nil
	}
}

func (v *chatView) handleKey(msg tea.KeyMsg) tea.Cmd {
	sess := v.deps.Session
	if sess == nil {
		return nil
	}

	switch msg.String() {
	case "esc":
		return popViewCmd()
	case "enter":
		if v.sending {
			return nil
		}
		v.sending = true
		return v.sendCmd()
	case "up":
		v.scroll++
		return nil
	case "down":
		if v.scroll > 0 {
			v.scroll--
		}
		return nil
	case "backspace":
		input := sess.Input()
		if len(input) > 0 {
			runes := []rune(input)
			sess.SetInput(string(runes[:len(runes)-1]))
		}
		return nil
	default:
		if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
			sess.SetInput(sess.Input() + string(msg.Runes))
		}
		return nil
	}
}

func (v *chatView) View(width, height int, theme Theme) string {
	sess := v.deps.Session
	if sess == nil {
		return "no session"
	}

	header := v.renderCounterparty(width)
	input := v.renderInput(width)

	historyHeight := height - lipgloss.Height(header) - lipgloss.Height(input)
	if historyHeight < 1 {
		historyHeight = 1
	}
	history := v.renderHistory(width, historyHeight)

	return lipgloss.JoinVertical(lipgloss.Left, header, history, input)
}

func (v *chatView) renderCounterparty(width int) string {
	sess := v.deps.Session

	party, resolution := sess.Counterparty()
	name := party.DisplayName
	switch resolution {
	case session.ResolutionPending:
		if name == "" {
			name = "..."
		}
	case session.ResolutionUnknown:
		if name == "" {
			name = "unknown contact"
		}
	}

	line := lipgloss.NewStyle().Bold(true).Render(name)
	if party.JobTitle != "" {
		line += lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("  " + party.JobTitle)
	}

	status := ""
	if sess.Degraded() {
		status = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("connection degraded")
	}
	spaces := width - lipgloss.Width(line) - lipgloss.Width(status)
	if spaces < 1 {
		spaces = 1
	}
	return line + strings.Repeat(" ", spaces) + status
}

func (v *chatView) renderHistory(width, height int) string {
	sess := v.deps.Session
	messages := sess.Messages()
	if len(messages) == 0 {
		return lipgloss.NewStyle().Height(height).Render("no messages yet")
	}

	own := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userID := sess.UserID()

	var lines []string
	for _, msg := range messages {
		prefix := ""
		if v.showTimestamps && !msg.CreatedAt.IsZero() {
			prefix = muted.Render(msg.CreatedAt.Local().Format("15:04")) + " "
		}

		body := msg.Body
		for _, att := range msg.Attachments {
			body += muted.Render(fmt.Sprintf(" [%s]", att.Name))
		}

		line := prefix + body
		if msg.SenderID == userID {
			line = prefix + own.Render("you: ") + body
		}
		lines = append(lines, truncate(line, maxInt(1, width)))
	}

	start := maxInt(0, len(lines)-height-v.scroll)
	end := minInt(len(lines), start+height)
	if v.scroll > len(lines)-height {
		v.scroll = maxInt(0, len(lines)-height)
	}
	visible := lines[start:end]
	return lipgloss.NewStyle().Height(height).Render(strings.Join(visible, "\n"))
}

func (v *chatView) renderInput(width int) string {
	sess := v.deps.Session

	prompt := "> " + sess.Input()
	if v.sending {
		prompt += " …"
	}
	line := truncate(prompt, maxInt(1, width))
	if v.sendErr != "" {
		errLine := lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Render(truncate(v.sendErr, maxInt(1, width)))
		return errLine + "\n" + line
	}
	return line
}

func (v *chatView) sendCmd() tea.Cmd {
	sess := v.deps.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return sendResultMsg{err: sess.Send(ctx)}
	}
}
