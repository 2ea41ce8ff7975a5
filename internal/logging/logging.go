// Package logging configures the process-wide zerolog logger.
//
// The chat screen owns stdout, so logs normally go to a file. The stdlib
// log package is bridged into the same logger.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level string
	// File receives JSON lines. Empty discards them unless Console is set.
	File string
	// Console mirrors logs to stderr in human-readable form.
	Console bool
}

var (
	mu     sync.RWMutex
	global = zerolog.Nop()
	closer io.Closer
)

// New builds a logger from cfg. The returned closer releases the log file.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	var writers []io.Writer
	var file *os.File

	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	if file == nil {
		return logger, nopCloser{}, nil
	}
	return logger, file, nil
}

// Init replaces the global logger and bridges stdlib log into it. Calling it
// again closes the previous log file.
func Init(cfg Config) error {
	logger, c, err := New(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	prev := closer
	global = logger
	closer = c
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.With().Str("source", "stdlog").Logger())
	return nil
}

// Close releases the global log file, if any.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	global = zerolog.Nop()
	mu.Unlock()
	stdlog.SetOutput(os.Stderr)
	if c == nil {
		return nil
	}
	return c.Close()
}

// L returns the global logger. It discards everything until Init is called.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := global
	return &l
}

func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
