package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/chatbox/internal/api"
	"github.com/dyike/chatbox/internal/chat"
	"github.com/dyike/chatbox/internal/session"
)

func newTestREPL(t *testing.T, input string, reply api.Reply) (*REPL, *bytes.Buffer, *fakeBot, *session.MemoryStore) {
	t.Helper()
	bot, endpoint := newFakeBot(t, reply)

	var out bytes.Buffer
	store := &session.MemoryStore{}
	require.NoError(t, store.Save("session_repl"))

	client := api.New(api.Options{Endpoint: endpoint, Timeout: 5 * time.Second})
	d, err := chat.NewDispatcher(client, store, consoleView{out: &out})
	require.NoError(t, err)
	return NewREPL(strings.NewReader(input), &out, d), &out, bot, store
}

func TestREPLSessionCommands(t *testing.T) {
	r, out, bot, store := newTestREPL(t, "/session\n/reset\n/session\n/help\n", api.Reply{})

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, bot.received())

	text := out.String()
	assert.Contains(t, text, "session: session_repl")
	assert.Contains(t, text, "new session: session_")
	assert.Contains(t, text, "/exit     quit")

	id, err := store.Load()
	require.NoError(t, err)
	assert.NotEqual(t, "session_repl", id)
}

func TestREPLLastLineWithoutNewline(t *testing.T) {
	r, out, bot, _ := newTestREPL(t, "first\nsecond", api.Reply{Response: "ack"})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"first", "second"}, bot.received())
	assert.Equal(t, 2, strings.Count(out.String(), "Bot: ack"))
}

func TestREPLStopsOnCancelledContext(t *testing.T) {
	r, _, bot, _ := newTestREPL(t, "hello\n", api.Reply{Response: "ack"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Empty(t, bot.received())
}

func TestREPLSendsSlashPrefixedMessages(t *testing.T) {
	r, out, bot, _ := newTestREPL(t, "/usr/bin is where binaries live?\n/reset now\n", api.Reply{Response: "ack"})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"/usr/bin is where binaries live?", "/reset now"}, bot.received())
	assert.Equal(t, 2, strings.Count(out.String(), "Bot: ack"))
}
