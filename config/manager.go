package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dyike/chatbox/internal/logging"
)

const reloadDelay = 300 * time.Millisecond

// Change describes a config edit picked up from disk or applied by Update.
type Change struct {
	Previous Config
	Current  Config
}

// EndpointChanged reports whether requests should go somewhere else now.
func (c Change) EndpointChanged() bool {
	return c.Previous.Endpoint != c.Current.Endpoint
}

// TimeoutChanged reports whether the request timeout was edited.
func (c Change) TimeoutChanged() bool {
	return c.Previous.RequestTimeout != c.Current.RequestTimeout
}

// Manager owns the JSON config file: it creates it on first use, writes
// updates atomically and reloads it when edited on disk.
type Manager struct {
	path     string
	debounce time.Duration

	mu       sync.RWMutex
	cfg      Config
	watcher  *fsnotify.Watcher
	onChange func(Change)
}

// NewManager opens the config file at path, or at DefaultConfigPath when
// path is empty. A missing file is created with defaults that keep every
// data file next to it.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg, err := loadOrCreateConfig(path)
	if err != nil {
		return nil, err
	}

	return &Manager{
		path:     path,
		debounce: reloadDelay,
		cfg:      cfg,
	}, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

// Update validates newCfg and writes it. The in-memory copy is switched
// first so the watcher sees no difference when its own write comes back.
func (m *Manager) Update(newCfg Config) error {
	if err := newCfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	prev := m.cfg
	if reflect.DeepEqual(prev, newCfg) {
		m.mu.Unlock()
		return nil
	}
	m.cfg = newCfg
	cb := m.onChange
	m.mu.Unlock()

	if err := writeConfigFile(m.path, newCfg); err != nil {
		m.mu.Lock()
		m.cfg = prev
		m.mu.Unlock()
		return err
	}

	if cb != nil {
		cb(Change{Previous: prev, Current: newCfg})
	}
	return nil
}

// Watch reloads the file on external edits until ctx is done. onChange runs
// on the watcher goroutine and only for valid configs that differ.
func (m *Manager) Watch(ctx context.Context, onChange func(Change)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onChange = onChange
	if m.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	// Editors replace the file, so the directory is watched.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	m.watcher = watcher

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		_ = watcher.Close()
		m.mu.Lock()
		m.watcher = nil
		m.mu.Unlock()
	}()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isConfigEvent(evt, m.path) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(m.debounce, m.reloadFromDisk)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.L().Warn().Err(err).Str("path", m.path).Msg("config watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func isConfigEvent(evt fsnotify.Event, configPath string) bool {
	if filepath.Clean(evt.Name) != filepath.Clean(configPath) {
		return false
	}
	return evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// reloadFromDisk keeps the previous config when the file is gone or broken.
// A half-edited file must not knock a running chat off its endpoint.
func (m *Manager) reloadFromDisk() {
	logger := logging.L().With().Str("path", m.path).Logger()

	cfg, err := loadConfigFromFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug().Msg("config file missing, keeping current settings")
			return
		}
		logger.Error().Err(err).Msg("config reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("config validation failed, keeping previous config")
		return
	}

	m.mu.Lock()
	prev := m.cfg
	if reflect.DeepEqual(prev, cfg) {
		m.mu.Unlock()
		return
	}
	m.cfg = cfg
	cb := m.onChange
	m.mu.Unlock()

	logger.Info().Str("endpoint", cfg.Endpoint).Msg("config reloaded")
	if cb != nil {
		cb(Change{Previous: prev, Current: cfg})
	}
}

func loadOrCreateConfig(path string) (Config, error) {
	cfg, err := loadConfigFromFile(path)
	switch {
	case err == nil:
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, nil
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg = *DefaultConfigWithRoot(filepath.Dir(path))
	if err := writeConfigFile(path, cfg); err != nil {
		return Config{}, fmt.Errorf("write initial config: %w", err)
	}
	return cfg, nil
}

// loadConfigFromFile fills fields missing from the file with defaults rooted
// at the file's directory.
func loadConfigFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := *DefaultConfigWithRoot(filepath.Dir(path))
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfigPath is <user config dir>/chatbox/config.json.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "chatbox", "config.json"), nil
}

func writeConfigFile(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
