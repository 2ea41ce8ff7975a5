// Package chat implements the send flow: show the user's message, post it
// with the session id, show the reply, and restore the input afterwards.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyike/chatbox/internal/api"
	"github.com/dyike/chatbox/internal/logging"
	"github.com/dyike/chatbox/internal/session"
)

// FallbackMessage is shown for any transport, status or decode failure.
const FallbackMessage = "Sorry, I can't connect to the server right now."

// ErrBusy is returned when Send is called while a request is outstanding.
var ErrBusy = errors.New("a message is already being sent")

// Client is the part of api.Client the dispatcher needs.
type Client interface {
	Send(ctx context.Context, req api.Request) (*api.Reply, error)
}

// Recorder receives every message shown, keyed by session id.
type Recorder interface {
	Record(ctx context.Context, sessionID string, msg Message) error
}

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeReply
	OutcomeServerError
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReply:
		return "reply"
	case OutcomeServerError:
		return "server_error"
	case OutcomeFailure:
		return "failure"
	default:
		return "skipped"
	}
}

// Result describes what one Send displayed.
type Result struct {
	Outcome Outcome
	Bot     Message
	Err     error
}

type Option func(*Dispatcher)

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

type Dispatcher struct {
	client   Client
	store    session.Store
	view     View
	recorder Recorder
	now      func() time.Time

	loading atomic.Bool

	mu        sync.RWMutex
	sessionID string
}

// NewDispatcher loads the stored session id, creating one on first use.
func NewDispatcher(client Client, store session.Store, view View, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		client: client,
		store:  store,
		view:   view,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	id, err := session.Ensure(store, d.now())
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	d.sessionID = id
	return d, nil
}

func (d *Dispatcher) SessionID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessionID
}

// Loading reports whether a request is outstanding.
func (d *Dispatcher) Loading() bool {
	return d.loading.Load()
}

// ResetSession forgets the stored id and starts a fresh one. It holds the
// in-flight guard, so no Send can run against a half-reset store.
func (d *Dispatcher) ResetSession() (string, error) {
	if !d.loading.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer d.loading.Store(false)

	if err := d.store.Clear(); err != nil {
		return "", err
	}
	id, err := session.Ensure(d.store, d.now())
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.sessionID = id
	d.mu.Unlock()
	logging.L().Info().Str("session_id", id).Msg("session reset")
	return id, nil
}

// Send runs one request/response cycle for input. Empty input is a no-op.
// Failures are shown to the user, not returned; the only error is ErrBusy.
func (d *Dispatcher) Send(ctx context.Context, input string) (Result, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Result{Outcome: OutcomeSkipped}, nil
	}
	if !d.loading.CompareAndSwap(false, true) {
		return Result{Outcome: OutcomeSkipped}, ErrBusy
	}

	d.show(ctx, Message{Sender: SenderUser, Text: text, Time: d.now()})
	d.view.ClearInput()
	d.view.SetLoading(true)

	defer func() {
		d.loading.Store(false)
		d.view.SetLoading(false)
		d.view.Focus()
	}()

	sessionID := d.SessionID()
	logger := logging.L().With().Str("session_id", sessionID).Logger()

	reply, err := d.client.Send(ctx, api.Request{Message: text, SessionID: sessionID})
	if err != nil {
		logger.Error().Err(err).Msg("fetch error")
		bot := d.show(ctx, Message{Sender: SenderBot, Text: FallbackMessage, Time: d.now()})
		return Result{Outcome: OutcomeFailure, Bot: bot, Err: err}, nil
	}

	if reply.Error != "" {
		logger.Warn().Str("error", reply.Error).Msg("server reported error")
		bot := d.show(ctx, Message{Sender: SenderBot, Text: fmt.Sprintf("[Error: %s]", reply.Error), Time: d.now()})
		return Result{Outcome: OutcomeServerError, Bot: bot}, nil
	}

	bot := d.show(ctx, Message{Sender: SenderBot, Text: reply.Response, Time: d.now()})
	d.adopt(reply.SessionID)
	return Result{Outcome: OutcomeReply, Bot: bot}, nil
}

// adopt switches to a session id handed back by the server.
func (d *Dispatcher) adopt(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}

	d.mu.Lock()
	if id == d.sessionID {
		d.mu.Unlock()
		return
	}
	prev := d.sessionID
	d.sessionID = id
	d.mu.Unlock()

	logger := logging.L().With().Str("session_id", id).Str("previous", prev).Logger()
	if err := d.store.Save(id); err != nil {
		// Still used in memory for the rest of this run.
		logger.Error().Err(err).Msg("persist session id")
		return
	}
	logger.Info().Msg("adopted session id from server")
}

func (d *Dispatcher) show(ctx context.Context, msg Message) Message {
	d.view.ShowMessage(msg)
	if d.recorder != nil {
		if err := d.recorder.Record(ctx, d.SessionID(), msg); err != nil {
			logging.L().Warn().Err(err).Msg("record transcript")
		}
	}
	return msg
}
