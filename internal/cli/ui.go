package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/chatbox/internal/chat"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(20)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	botStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func printBanner(w io.Writer, endpoint, sessionID string) {
	fmt.Fprintln(w, titleStyle.Render("chatbox")+dimStyle.Render(" · plain mode"))
	fmt.Fprintln(w, dimStyle.Render("endpoint: "+endpoint))
	fmt.Fprintln(w, dimStyle.Render("session:  "+sessionID))
	fmt.Fprintln(w, dimStyle.Render("type /help for commands, /exit to quit"))
	fmt.Fprintln(w)
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintln(w, labelStyle.Render(label+":")+" "+value)
}

func printSection(w io.Writer, title string) {
	fmt.Fprintln(w, sectionStyle.Render(title))
	fmt.Fprintln(w, dimStyle.Render(strings.Repeat("─", 40)))
}

func formatMessage(msg chat.Message) string {
	if msg.IsUser() {
		return userStyle.Render("You:") + " " + msg.Text
	}
	text := msg.Text
	if text == chat.FallbackMessage || strings.HasPrefix(text, "[Error: ") {
		text = errorStyle.Render(text)
	}
	return botStyle.Render("Bot:") + " " + text
}

func check(ok bool) string {
	if ok {
		return okStyle.Render("ok")
	}
	return errorStyle.Render("failed")
}
