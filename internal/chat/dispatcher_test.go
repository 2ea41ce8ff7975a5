package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/chatbox/internal/api"
	"github.com/dyike/chatbox/internal/session"
)

// recordingView captures every call the dispatcher makes, in order.
type recordingView struct {
	mu       sync.Mutex
	messages []Message
	loading  []bool
	cleared  int
	focused  int
	events   []string
}

func (v *recordingView) ShowMessage(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, m)
	v.events = append(v.events, "show:"+string(m.Sender))
}

func (v *recordingView) ClearInput() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cleared++
	v.events = append(v.events, "clear")
}

func (v *recordingView) SetLoading(loading bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = append(v.loading, loading)
	if loading {
		v.events = append(v.events, "loading:on")
	} else {
		v.events = append(v.events, "loading:off")
	}
}

func (v *recordingView) Focus() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.focused++
	v.events = append(v.events, "focus")
}

func (v *recordingView) botMessages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []Message
	for _, m := range v.messages {
		if m.Sender == SenderBot {
			out = append(out, m)
		}
	}
	return out
}

// backend is a fake chatbot endpoint that records every request body.
type backend struct {
	mu       sync.Mutex
	requests []api.Request
	status   int
	body     string
}

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	var req api.Request
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	b.requests = append(b.requests, req)
	status, body := b.status, b.body
	b.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (b *backend) respond(status int, body string) {
	b.mu.Lock()
	b.status, b.body = status, body
	b.mu.Unlock()
}

func (b *backend) sent() []api.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.Request(nil), b.requests...)
}

func setup(t *testing.T) (*Dispatcher, *recordingView, *backend, *session.MemoryStore) {
	t.Helper()
	b := &backend{}
	r := chi.NewRouter()
	r.Post("/", b.handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	store := &session.MemoryStore{}
	require.NoError(t, store.Save("session_initial"))

	view := &recordingView{}
	d, err := NewDispatcher(api.New(api.Options{Endpoint: srv.URL, Timeout: 5 * time.Second}), store, view)
	require.NoError(t, err)
	return d, view, b, store
}

func TestSendEmptyInputDoesNothing(t *testing.T) {
	d, view, b, _ := setup(t)

	for _, in := range []string{"", "   ", "\t\n"} {
		res, err := d.Send(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
	}

	assert.Empty(t, view.messages)
	assert.Empty(t, view.events)
	assert.Empty(t, b.sent())
}

func TestSendReplyShowsExactlyOneBotMessage(t *testing.T) {
	d, view, b, _ := setup(t)
	b.respond(http.StatusOK, `{"response":"hi"}`)

	res, err := d.Send(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReply, res.Outcome)

	require.Len(t, view.messages, 2)
	assert.Equal(t, Message{Sender: SenderUser, Text: "hello"}, Message{Sender: view.messages[0].Sender, Text: view.messages[0].Text})

	bots := view.botMessages()
	require.Len(t, bots, 1)
	assert.Equal(t, "hi", bots[0].Text)

	assert.Equal(t, []api.Request{{Message: "hello", SessionID: "session_initial"}}, b.sent())
	assert.Equal(t, []string{"show:user", "clear", "loading:on", "show:bot", "loading:off", "focus"}, view.events)
	assert.False(t, d.Loading())
}

func TestSendServerErrorShownInline(t *testing.T) {
	d, view, b, _ := setup(t)
	b.respond(http.StatusOK, `{"error":"bad"}`)

	res, err := d.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeServerError, res.Outcome)

	bots := view.botMessages()
	require.Len(t, bots, 1)
	assert.Contains(t, bots[0].Text, "bad")
	assert.Equal(t, "[Error: bad]", bots[0].Text)
	assert.Equal(t, []bool{true, false}, view.loading)
	assert.Equal(t, 1, view.focused)
}

func TestSendNon2xxShowsFallback(t *testing.T) {
	d, view, b, _ := setup(t)
	b.respond(http.StatusBadGateway, `{"response":"should not show"}`)

	res, err := d.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.True(t, api.IsStatusError(res.Err))

	bots := view.botMessages()
	require.Len(t, bots, 1)
	assert.Equal(t, FallbackMessage, bots[0].Text)
	assert.Equal(t, []bool{true, false}, view.loading)
	assert.Equal(t, 1, view.focused)
}

func TestSendMalformedReplyShowsFallback(t *testing.T) {
	d, view, b, _ := setup(t)
	b.respond(http.StatusOK, `not json`)

	res, err := d.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	require.Len(t, view.botMessages(), 1)
	assert.Equal(t, FallbackMessage, view.botMessages()[0].Text)
}

func TestSendNullReplyShowsFallback(t *testing.T) {
	d, view, b, _ := setup(t)
	b.respond(http.StatusOK, `null`)

	res, err := d.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, api.ErrEmptyReply)
	require.Len(t, view.botMessages(), 1)
	assert.Equal(t, FallbackMessage, view.botMessages()[0].Text)
	assert.Equal(t, "session_initial", d.SessionID())
}

func TestSendNetworkFailureRestoresInput(t *testing.T) {
	store := &session.MemoryStore{}
	view := &recordingView{}

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d, err := NewDispatcher(api.New(api.Options{Endpoint: url}), store, view)
	require.NoError(t, err)

	res, err := d.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, FallbackMessage, res.Bot.Text)
	assert.Equal(t, []bool{true, false}, view.loading)
	assert.Equal(t, 1, view.focused)
	assert.False(t, d.Loading())
}

func TestSendAdoptsNewSessionID(t *testing.T) {
	d, _, b, store := setup(t)
	b.respond(http.StatusOK, `{"response":"hi","session_id":"session_server"}`)

	_, err := d.Send(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, "session_server", d.SessionID())

	stored, _ := store.Load()
	assert.Equal(t, "session_server", stored)

	b.respond(http.StatusOK, `{"response":"again"}`)
	_, err = d.Send(context.Background(), "second")
	require.NoError(t, err)

	sent := b.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "session_initial", sent[0].SessionID)
	assert.Equal(t, "session_server", sent[1].SessionID)
}

func TestSendIgnoresSessionIDOnServerError(t *testing.T) {
	d, _, b, _ := setup(t)
	b.respond(http.StatusOK, `{"error":"bad","session_id":"session_other"}`)

	_, err := d.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "session_initial", d.SessionID())
}

// blockingClient holds every request until released.
type blockingClient struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (c *blockingClient) Send(ctx context.Context, _ api.Request) (*api.Reply, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	c.started <- struct{}{}
	select {
	case <-c.release:
		return &api.Reply{Response: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSendWhileLoadingIsRejected(t *testing.T) {
	client := &blockingClient{started: make(chan struct{}, 1), release: make(chan struct{})}
	view := &recordingView{}
	d, err := NewDispatcher(client, &session.MemoryStore{}, view)
	require.NoError(t, err)

	done := make(chan Result, 1)
	go func() {
		res, _ := d.Send(context.Background(), "first")
		done <- res
	}()

	<-client.started
	assert.True(t, d.Loading())

	_, err = d.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	_, err = d.ResetSession()
	assert.ErrorIs(t, err, ErrBusy)

	close(client.release)
	res := <-done
	assert.Equal(t, OutcomeReply, res.Outcome)
	assert.False(t, d.Loading())

	client.mu.Lock()
	assert.Equal(t, 1, client.calls)
	client.mu.Unlock()
}

func TestCancelledContextShowsFallback(t *testing.T) {
	client := &blockingClient{started: make(chan struct{}, 1), release: make(chan struct{})}
	view := &recordingView{}
	d, err := NewDispatcher(client, &session.MemoryStore{}, view)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-client.started
		cancel()
	}()

	res, err := d.Send(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.False(t, d.Loading())
}

func TestNewDispatcherGeneratesSession(t *testing.T) {
	store := &session.MemoryStore{}
	fixed := time.UnixMilli(1700000000000)

	d, err := NewDispatcher(&blockingClient{}, store, &recordingView{}, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	assert.Regexp(t, `^session_1700000000000[0-9a-f]+$`, d.SessionID())

	stored, _ := store.Load()
	assert.Equal(t, d.SessionID(), stored)
}

func TestResetSessionStartsFresh(t *testing.T) {
	d, _, _, store := setup(t)

	id, err := d.ResetSession()
	require.NoError(t, err)
	assert.NotEqual(t, "session_initial", id)
	assert.Equal(t, id, d.SessionID())

	stored, _ := store.Load()
	assert.Equal(t, id, stored)
}

// slowClearStore holds Clear open until released.
type slowClearStore struct {
	session.MemoryStore
	clearing chan struct{}
	release  chan struct{}
}

func (s *slowClearStore) Clear() error {
	s.clearing <- struct{}{}
	<-s.release
	return s.MemoryStore.Clear()
}

func TestSendRejectedWhileResetting(t *testing.T) {
	b := &backend{}
	b.respond(http.StatusOK, `{"response":"hi"}`)
	r := chi.NewRouter()
	r.Post("/", b.handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	store := &slowClearStore{clearing: make(chan struct{}, 1), release: make(chan struct{})}
	require.NoError(t, store.Save("session_old"))
	d, err := NewDispatcher(api.New(api.Options{Endpoint: srv.URL, Timeout: 5 * time.Second}), store, &recordingView{})
	require.NoError(t, err)

	resetDone := make(chan string, 1)
	go func() {
		id, _ := d.ResetSession()
		resetDone <- id
	}()

	<-store.clearing
	_, err = d.Send(context.Background(), "during reset")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, b.sent())

	close(store.release)
	id := <-resetDone
	assert.NotEqual(t, "session_old", id)
	assert.False(t, d.Loading())

	_, err = d.Send(context.Background(), "after reset")
	require.NoError(t, err)
	sent := b.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, id, sent[0].SessionID)
}

type memRecorder struct {
	mu   sync.Mutex
	rows []string
}

func (r *memRecorder) Record(_ context.Context, sessionID string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, sessionID+"|"+string(msg.Sender)+"|"+msg.Text)
	return nil
}

func TestRecorderSeesEveryShownMessage(t *testing.T) {
	b := &backend{}
	b.respond(http.StatusOK, `{"response":"hi"}`)
	srv := httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(srv.Close)

	store := &session.MemoryStore{}
	require.NoError(t, store.Save("session_rec"))
	rec := &memRecorder{}

	d, err := NewDispatcher(api.New(api.Options{Endpoint: srv.URL}), store, &recordingView{}, WithRecorder(rec))
	require.NoError(t, err)

	_, err = d.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"session_rec|user|hello", "session_rec|bot|hi"}, rec.rows)
}
