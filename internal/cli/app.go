package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/chatbox/config"
	"github.com/dyike/chatbox/internal/api"
	"github.com/dyike/chatbox/internal/chat"
	"github.com/dyike/chatbox/internal/logging"
	"github.com/dyike/chatbox/internal/session"
	"github.com/dyike/chatbox/internal/transcript"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	endpoint   string
	debug      bool
}

// app is the wiring behind a command: effective config, HTTP client,
// session store and the optional transcript.
type app struct {
	opts    *rootOptions
	manager *config.Manager
	cfg     config.Config

	client     *api.Client
	store      *session.FileStore
	transcript *transcript.Store
}

// loadConfig merges the config file, CHATBOX_* environment and flags.
func loadConfig(opts *rootOptions) (*config.Manager, config.Config, error) {
	mgr, err := config.NewManager(opts.configPath)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return mgr, effectiveConfig(mgr.Get(), opts), nil
}

func effectiveConfig(cfg config.Config, opts *rootOptions) config.Config {
	cfg.ApplyEnv()
	if ep := strings.TrimSpace(opts.endpoint); ep != "" {
		cfg.Endpoint = ep
	}
	if opts.debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	return cfg
}

// newApp prepares everything a chat command needs. console mirrors logs to
// stderr when debugging outside the full-screen UI.
func newApp(opts *rootOptions, console bool) (*app, error) {
	mgr, cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	if err := logging.Init(logging.Config{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: console && cfg.Debug,
	}); err != nil {
		return nil, err
	}

	a := &app{
		opts:    opts,
		manager: mgr,
		cfg:     cfg,
		client: api.New(api.Options{
			Endpoint:  cfg.Endpoint,
			Timeout:   cfg.RequestTimeout.Std(),
			UserAgent: cfg.UserAgent,
		}),
		store: session.NewFileStore(cfg.SessionFile),
	}

	if cfg.TranscriptEnabled {
		ts, err := transcript.Open(cfg.TranscriptDB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open transcript: %w", err)
		}
		a.transcript = ts
	}

	logging.L().Debug().
		Str("config", mgr.Path()).
		Str("endpoint", cfg.Endpoint).
		Bool("transcript", cfg.TranscriptEnabled).
		Msg("chatbox starting")
	return a, nil
}

func (a *app) dispatcher(view chat.View) (*chat.Dispatcher, error) {
	var opts []chat.Option
	if a.transcript != nil {
		opts = append(opts, chat.WithRecorder(a.transcript))
	}
	return chat.NewDispatcher(a.client, a.store, view, opts...)
}

// watch follows config file edits and applies the new endpoint and timeout
// to the running client. A flag-pinned endpoint is never replaced.
func (a *app) watch(ctx context.Context, notify func(endpoint string)) {
	err := a.manager.Watch(ctx, func(ch config.Change) {
		cfg := effectiveConfig(ch.Current, a.opts)
		if err := cfg.Validate(); err != nil {
			logging.L().Warn().Err(err).Msg("ignoring invalid config change")
			return
		}
		if ch.TimeoutChanged() {
			a.client.SetTimeout(cfg.RequestTimeout.Std())
		}
		if !ch.EndpointChanged() || cfg.Endpoint == a.client.Endpoint() {
			return
		}
		a.client.SetEndpoint(cfg.Endpoint)
		logging.L().Info().Str("endpoint", cfg.Endpoint).Msg("endpoint updated")
		if notify != nil {
			notify(cfg.Endpoint)
		}
	})
	if err != nil {
		logging.L().Warn().Err(err).Msg("config watch unavailable")
	}
}

func (a *app) Close() {
	if a.transcript != nil {
		if err := a.transcript.Close(); err != nil {
			logging.L().Warn().Err(err).Msg("close transcript")
		}
	}
	_ = logging.Close()
}
