package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultEndpoint = "https://ai-chatbot-backend-xbng.onrender.com"

var ErrEndpointRequired = errors.New("endpoint is required")

type Config struct {
	Endpoint       string   `json:"endpoint"`
	DataDir        string   `json:"data_dir"`
	SessionFile    string   `json:"session_file"`
	LogFile        string   `json:"log_file"`
	LogLevel       string   `json:"log_level"`
	RequestTimeout Duration `json:"request_timeout"`
	UserAgent      string   `json:"user_agent"`
	Markdown       bool     `json:"markdown"`
	Debug          bool     `json:"debug"`

	// Transcript keeps rendered messages in SQLite. Off unless asked for.
	TranscriptEnabled bool   `json:"transcript_enabled"`
	TranscriptDB      string `json:"transcript_db"`
}

// Duration marshals as a Go duration string ("60s") in the config file.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ApplyEnv loads a .env file from the working directory, if any, and lets
// CHATBOX_* variables override the current values.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	c.loadFromEnv()
}

// DefaultConfigWithRoot returns defaults with every file placed under dataDir.
// Environment overrides are not applied.
func DefaultConfigWithRoot(dataDir string) *Config {
	return &Config{
		Endpoint:       DefaultEndpoint,
		DataDir:        dataDir,
		SessionFile:    filepath.Join(dataDir, "session.json"),
		LogFile:        filepath.Join(dataDir, "chatbox.log"),
		LogLevel:       "info",
		RequestTimeout: Duration(60 * time.Second),
		UserAgent:      "chatbox/1.0",
		Markdown:       true,
		TranscriptDB:   filepath.Join(dataDir, "transcript.db"),
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("CHATBOX_DATA_DIR"); val != "" {
		c.relocate(val)
	}
	if val := os.Getenv("CHATBOX_ENDPOINT"); val != "" {
		c.Endpoint = val
	}
	if val := os.Getenv("CHATBOX_SESSION_FILE"); val != "" {
		c.SessionFile = val
	}
	if val := os.Getenv("CHATBOX_LOG_FILE"); val != "" {
		c.LogFile = val
	}
	if val := os.Getenv("CHATBOX_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("CHATBOX_USER_AGENT"); val != "" {
		c.UserAgent = val
	}
	if val := os.Getenv("CHATBOX_TRANSCRIPT_DB"); val != "" {
		c.TranscriptDB = val
	}

	if val := os.Getenv("CHATBOX_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.RequestTimeout = Duration(d)
		}
	}
	if val := os.Getenv("CHATBOX_MARKDOWN"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Markdown = enabled
		}
	}
	if val := os.Getenv("CHATBOX_TRANSCRIPT"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.TranscriptEnabled = enabled
		}
	}
	if val := os.Getenv("CHATBOX_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
}

// relocate moves the default file locations into dir.
func (c *Config) relocate(dir string) {
	c.DataDir = dir
	c.SessionFile = filepath.Join(dir, "session.json")
	c.LogFile = filepath.Join(dir, "chatbox.log")
	c.TranscriptDB = filepath.Join(dir, "transcript.db")
}

func (c Config) Validate() error {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return ErrEndpointRequired
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if strings.TrimSpace(c.SessionFile) == "" {
		return fmt.Errorf("session_file is required")
	}
	if c.TranscriptEnabled && strings.TrimSpace(c.TranscriptDB) == "" {
		return fmt.Errorf("transcript_db is required when transcript is enabled")
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.SessionFile), filepath.Dir(c.LogFile)}
	if c.TranscriptEnabled {
		dirs = append(dirs, filepath.Dir(c.TranscriptDB))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
