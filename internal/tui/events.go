package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dyike/chatbox/internal/chat"
)

type (
	messageMsg    chat.Message
	clearInputMsg struct{}
	loadingMsg    bool
	focusMsg      struct{}

	sendDoneMsg struct {
		result chat.Result
		err    error
	}

	// EndpointChangedMsg tells a running screen the config now points elsewhere.
	EndpointChangedMsg struct {
		Endpoint string
	}
)

// Events is a chat.View that forwards every call to the bubbletea loop. The
// dispatcher runs inside a command goroutine, so calls are queued on a
// channel and picked up by waitForEvent.
type Events struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

func NewEvents() *Events {
	return &Events{
		ch:   make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
}

func (e *Events) ShowMessage(m chat.Message) { e.emit(messageMsg(m)) }
func (e *Events) ClearInput()                { e.emit(clearInputMsg{}) }
func (e *Events) SetLoading(loading bool)    { e.emit(loadingMsg(loading)) }
func (e *Events) Focus()                     { e.emit(focusMsg{}) }

// Close stops delivery. Pending and later calls are dropped.
func (e *Events) Close() {
	e.once.Do(func() { close(e.done) })
}

func (e *Events) emit(msg tea.Msg) {
	select {
	case e.ch <- msg:
	case <-e.done:
	}
}

func (e *Events) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-e.ch:
			return msg
		case <-e.done:
			return nil
		}
	}
}
