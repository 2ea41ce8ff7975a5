package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dyike/chatbox/internal/chat"
)

// consoleView prints the conversation line by line.
type consoleView struct {
	out io.Writer
}

func (v consoleView) ShowMessage(m chat.Message) {
	fmt.Fprintln(v.out, formatMessage(m))
}

// ClearInput is a no-op: the terminal line is already consumed.
func (v consoleView) ClearInput() {}

func (v consoleView) SetLoading(loading bool) {
	if loading {
		fmt.Fprintln(v.out, dimStyle.Render("Thinking..."))
	}
}

func (v consoleView) Focus() {}

// REPL is the line-mode chat used by `chat --plain` and when stdin is not a
// terminal.
type REPL struct {
	in         *bufio.Reader
	out        io.Writer
	dispatcher *chat.Dispatcher
	prompt     string
}

func NewREPL(in io.Reader, out io.Writer, d *chat.Dispatcher) *REPL {
	return &REPL{
		in:         bufio.NewReader(in),
		out:        out,
		dispatcher: d,
		prompt:     "you> ",
	}
}

// Run reads lines until EOF, /exit or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, r.prompt)

		line, err := r.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		eof := errors.Is(err, io.EOF)

		input := strings.TrimSpace(line)
		if input == "" {
			if eof {
				fmt.Fprintln(r.out)
				return nil
			}
			continue
		}

		handled, quit := r.command(input)
		if quit {
			return nil
		}
		if !handled {
			if _, err := r.dispatcher.Send(ctx, input); err != nil {
				fmt.Fprintln(r.out, warnStyle.Render(err.Error()))
			}
		}

		if eof {
			return nil
		}
	}
}

// command runs input if it is exactly one of the local commands. Anything
// else, slash or not, is a message for the bot.
func (r *REPL) command(input string) (handled, quit bool) {
	switch strings.ToLower(input) {
	case "/exit", "/quit":
		fmt.Fprintln(r.out, dimStyle.Render("bye"))
		return true, true
	case "/session":
		fmt.Fprintln(r.out, dimStyle.Render("session: "+r.dispatcher.SessionID()))
	case "/reset":
		id, err := r.dispatcher.ResetSession()
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render("reset failed: "+err.Error()))
			break
		}
		fmt.Fprintln(r.out, dimStyle.Render("new session: "+id))
	case "/help":
		fmt.Fprintln(r.out, "/session  show the session id")
		fmt.Fprintln(r.out, "/reset    start a new session")
		fmt.Fprintln(r.out, "/exit     quit")
		fmt.Fprintln(r.out, "anything else is sent to the bot")
	default:
		return false, false
	}
	return true, false
}
