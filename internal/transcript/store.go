// Package transcript is the opt-in SQLite log of shown chat messages.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dyike/chatbox/internal/chat"
)

type Store struct {
	db *sql.DB
}

type SessionRecord struct {
	RowID     int64
	ID        string
	Messages  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MessageRecord struct {
	ID        string
	SessionID string
	Seq       int
	Message   chat.Message
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    sender TEXT NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL,
    sent_at TEXT NOT NULL,
    UNIQUE(session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Record appends msg to the session's transcript, creating the session row
// on first use.
func (s *Store) Record(ctx context.Context, sessionID string, msg chat.Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if msg.Sender == "" {
		return fmt.Errorf("message sender is required")
	}
	at := msg.Time
	if at.IsZero() {
		at = time.Now()
	}
	stamp := at.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions (id, created_at, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at
`, sessionID, stamp, stamp); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, session_id, sender, text, seq, sent_at)
VALUES (?, ?, ?, ?, ?, ?)
`, uuid.NewString(), sessionID, string(msg.Sender), msg.Text, seq, stamp); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// ListSessions pages sessions newest first. cursor is the last RowID seen, 0
// for the first page.
func (s *Store) ListSessions(ctx context.Context, cursor int64, limit int) ([]SessionRecord, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
SELECT s.rowid, s.id, s.created_at, s.updated_at,
       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
FROM sessions s
WHERE (? = 0 OR s.rowid < ?)
ORDER BY s.rowid DESC
LIMIT ?
`, cursor, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var (
			rec              SessionRecord
			created, updated string
		)
		if err := rows.Scan(&rec.RowID, &rec.ID, &created, &updated, &rec.Messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		rec.UpdatedAt = parseTime(updated)
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions rows: %w", err)
	}
	return sessions, nil
}

// ListMessages returns the last limit messages of a session in order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, sender, text, seq, sent_at FROM (
    SELECT id, session_id, sender, text, seq, sent_at
    FROM messages
    WHERE session_id = ?
    ORDER BY seq DESC
    LIMIT ?
) ORDER BY seq ASC
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []MessageRecord
	for rows.Next() {
		var (
			rec    MessageRecord
			sender string
			sentAt string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &sender, &rec.Message.Text, &rec.Seq, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.Message.Sender = chat.Sender(sender)
		rec.Message.Time = parseTime(sentAt)
		msgs = append(msgs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages rows: %w", err)
	}
	return msgs, nil
}

// DeleteSession drops a session and, by cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

var ErrSessionNotFound = errors.New("session not found")

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
