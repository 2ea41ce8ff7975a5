// Package tui is the full-screen chat: a scrolling message history, a single
// input line and a spinner while a reply is outstanding.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/dyike/chatbox/internal/chat"
	"github.com/dyike/chatbox/internal/logging"
)

const (
	placeholderIdle    = "Type your message..."
	placeholderLoading = "Thinking..."
)

// Dispatcher is the subset of chat.Dispatcher the screen drives.
type Dispatcher interface {
	Send(ctx context.Context, input string) (chat.Result, error)
	SessionID() string
	ResetSession() (string, error)
}

type Options struct {
	Endpoint string
	Markdown bool
}

type entry struct {
	msg  chat.Message
	note bool
}

type Model struct {
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	dispatcher Dispatcher
	events     *Events
	ctx        context.Context
	cancel     context.CancelFunc

	entries  []entry
	loading  bool
	endpoint string
	markdown bool

	width  int
	height int
	ready  bool
}

func New(ctx context.Context, d Dispatcher, events *Events, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = placeholderIdle
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	ctx, cancel := context.WithCancel(ctx)

	return Model{
		input:      ti,
		viewport:   viewport.New(80, 20),
		spinner:    sp,
		dispatcher: d,
		events:     events,
		ctx:        ctx,
		cancel:     cancel,
		endpoint:   opts.Endpoint,
		markdown:   opts.Markdown,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.events.wait(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case messageMsg:
		m.entries = append(m.entries, entry{msg: chat.Message(msg)})
		m.refresh()
		return m, m.events.wait()

	case clearInputMsg:
		m.input.Reset()
		return m, m.events.wait()

	case loadingMsg:
		m.setLoading(bool(msg))
		if m.loading {
			return m, tea.Batch(m.events.wait(), m.spinner.Tick)
		}
		return m, m.events.wait()

	case focusMsg:
		cmd := m.input.Focus()
		return m, tea.Batch(m.events.wait(), cmd)

	case sendDoneMsg:
		if errors.Is(msg.err, chat.ErrBusy) {
			m.addNote("still waiting for the previous reply")
		}
		return m, nil

	case EndpointChangedMsg:
		if msg.Endpoint != "" && msg.Endpoint != m.endpoint {
			m.endpoint = msg.Endpoint
			m.addNote("endpoint changed to " + msg.Endpoint)
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.cancel()
		m.events.Close()
		return m, tea.Quit

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyEnter:
		if m.loading {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		if isCommand(text) {
			return m.runCommand(text)
		}
		// Guard locally until the dispatcher's own loading event arrives.
		m.setLoading(true)
		return m, tea.Batch(m.send(text), m.spinner.Tick)
	}

	if m.loading {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) send(text string) tea.Cmd {
	ctx, d := m.ctx, m.dispatcher
	return func() tea.Msg {
		res, err := d.Send(ctx, text)
		return sendDoneMsg{result: res, err: err}
	}
}

var commands = map[string]bool{
	"/quit": true, "/exit": true, "/session": true,
	"/reset": true, "/clear": true, "/help": true,
}

// isCommand matches whole-line local commands only, so messages that merely
// start with a slash still go to the bot.
func isCommand(text string) bool {
	return commands[strings.ToLower(text)]
}

func (m Model) runCommand(text string) (tea.Model, tea.Cmd) {
	m.input.Reset()
	switch strings.ToLower(text) {
	case "/quit", "/exit":
		m.cancel()
		m.events.Close()
		return m, tea.Quit
	case "/session":
		m.addNote("session: " + m.dispatcher.SessionID())
	case "/reset":
		id, err := m.dispatcher.ResetSession()
		if err != nil {
			m.addNote("reset failed: " + err.Error())
			break
		}
		m.addNote("new session: " + id)
	case "/clear":
		m.entries = nil
		m.refresh()
	case "/help":
		m.addNote("/session  show session id · /reset  start a new session · /clear  clear screen · /quit  exit · anything else is sent")
	}
	return m, nil
}

func (m *Model) setLoading(loading bool) {
	m.loading = loading
	if loading {
		m.input.Placeholder = placeholderLoading
		m.input.Blur()
		return
	}
	m.input.Placeholder = placeholderIdle
}

func (m *Model) addNote(text string) {
	m.entries = append(m.entries, entry{msg: chat.Message{Text: text}, note: true})
	m.refresh()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	// header 1, viewport border 2, status 1, input box 3, help 1
	vpHeight := height - 8
	if vpHeight < 1 {
		vpHeight = 1
	}
	vpWidth := width - 4
	if vpWidth < 1 {
		vpWidth = 1
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
	m.input.Width = max(vpWidth-4, 1)

	if m.markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(max(vpWidth-2, 10)),
		)
		if err != nil {
			logging.L().Warn().Err(err).Msg("markdown renderer unavailable")
		} else {
			m.renderer = r
		}
	}
	m.ready = true
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

// Loading reports whether the screen is waiting for a reply.
func (m Model) Loading() bool { return m.loading }

// Messages returns the chat messages shown so far, notes excluded.
func (m Model) Messages() []chat.Message {
	out := make([]chat.Message, 0, len(m.entries))
	for _, e := range m.entries {
		if !e.note {
			out = append(out, e.msg)
		}
	}
	return out
}

// InputFocused reports whether keystrokes reach the input.
func (m Model) InputFocused() bool { return m.input.Focused() }
