package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/chatbox/internal/chat"
)

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(messagesStyle.Width(m.viewport.Width + 2).Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	box := inputStyle
	if m.loading {
		box = inputDisabledStyle
	}
	b.WriteString(box.Width(m.viewport.Width + 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send · pgup/pgdn scroll · /help commands · esc quit"))
	return b.String()
}

func (m Model) renderHeader() string {
	info := fmt.Sprintf(" %s · %s", m.endpoint, shortID(m.dispatcher.SessionID()))
	return titleStyle.Render("chatbox") + headerInfoStyle.Render(info)
}

func (m Model) renderStatus() string {
	if m.loading {
		return m.spinner.View() + statusStyle.Render(" "+placeholderLoading)
	}
	// The send hint only appears once there is something to send.
	if strings.TrimSpace(m.input.Value()) != "" {
		return helpStyle.Render("press enter to send")
	}
	return ""
}

func (m Model) renderHistory() string {
	if len(m.entries) == 0 {
		return helpStyle.Render("No messages yet. Say hello!")
	}

	width := m.viewport.Width
	parts := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		if e.note {
			parts = append(parts, noteStyle.Width(width).Render("· "+e.msg.Text))
			continue
		}
		parts = append(parts, m.renderMessage(e.msg, width))
	}
	return strings.Join(parts, "\n\n")
}

func (m Model) renderMessage(msg chat.Message, width int) string {
	stamp := ""
	if !msg.Time.IsZero() {
		stamp = helpStyle.Render(" " + msg.Time.Format("15:04"))
	}

	if msg.IsUser() {
		return lipgloss.JoinVertical(lipgloss.Left,
			userLabelStyle.Render("You")+stamp,
			userTextStyle.Width(width).Render(msg.Text),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		botLabelStyle.Render("Bot")+stamp,
		m.renderBotText(msg.Text, width),
	)
}

func (m Model) renderBotText(text string, width int) string {
	if isFailureText(text) {
		return errorTextStyle.Width(width).Render(text)
	}
	if m.markdown && m.renderer != nil {
		if out, err := m.renderer.Render(text); err == nil {
			return strings.Trim(out, "\n")
		}
	}
	return botTextStyle.Width(width).Render(text)
}

func isFailureText(text string) bool {
	return text == chat.FallbackMessage || strings.HasPrefix(text, "[Error: ")
}

func shortID(id string) string {
	if len(id) <= 24 {
		return id
	}
	return id[:24] + "…"
}
