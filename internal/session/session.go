// Package session keeps the opaque session identifier that ties requests to
// a server-side conversation. The identifier lives in a small JSON file so it
// survives restarts until it is reset.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const prefix = "session_"

var ErrEmptyID = errors.New("session id is empty")

// Store persists a single session id.
type Store interface {
	// Load returns "" and a nil error when nothing is stored yet.
	Load() (string, error)
	Save(id string) error
	Clear() error
}

// Generate returns "session_" + unix millis + a random hex suffix.
func Generate(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	return prefix + strconv.FormatInt(now.UnixMilli(), 10) + suffix
}

// Ensure loads the stored id, generating and saving one on first use.
func Ensure(store Store, now time.Time) (string, error) {
	id, err := store.Load()
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = Generate(now)
	if err := store.Save(id); err != nil {
		return "", err
	}
	return id, nil
}

type record struct {
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStore keeps the id in a JSON file written atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read session file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", nil
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("parse session file %s: %w", s.path, err)
	}
	return strings.TrimSpace(rec.SessionID), nil
}

func (s *FileStore) Save(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(record{SessionID: id, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp session file: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// MemoryStore is a Store that never touches disk.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

func (m *MemoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *MemoryStore) Save(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.id = ""
	m.mu.Unlock()
	return nil
}
