package chat

import "time"

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one rendered line of the conversation.
type Message struct {
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

func (m Message) IsUser() bool { return m.Sender == SenderUser }

// View is whatever renders the conversation: the TUI, the line REPL or a test
// double. Calls arrive from the goroutine running Dispatcher.Send.
type View interface {
	ShowMessage(Message)
	ClearInput()
	SetLoading(loading bool)
	Focus()
}
