// Package chatlog journals the messages the bot observes so that a chat's
// history can later be paged backward. The Telegram Bot API cannot fetch past
// messages, so this journal is the message source for archiving.
package chatlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"guesser/internal/archive"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	chat_id    INTEGER NOT NULL,
	message_id INTEGER NOT NULL,
	author_id  INTEGER NOT NULL,
	author     TEXT    NOT NULL,
	is_bot     INTEGER NOT NULL DEFAULT 0,
	text       TEXT    NOT NULL,
	sent_at    TEXT    NOT NULL,
	PRIMARY KEY (chat_id, message_id)
);`

// Log is a SQLite-backed message journal.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path. Use ":memory:" for tests.
func Open(path string) (*Log, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create chatlog directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Append records m for chatID. A message already present (same id) is
// overwritten, so edits replace the original text.
func (l *Log) Append(ctx context.Context, chatID int64, m archive.Message) error {
	sentAt := m.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, message_id, author_id, author, is_bot, text, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, message_id) DO UPDATE SET
			author_id = excluded.author_id,
			author    = excluded.author,
			is_bot    = excluded.is_bot,
			text      = excluded.text`,
		chatID, m.ID, m.AuthorID, m.Author, boolToInt(m.IsBot), m.Text, sentAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append message %d to chat %d: %w", m.ID, chatID, err)
	}
	return nil
}

// Fetch returns up to limit messages of chatID with ids lower than before,
// newest first. before == 0 starts from the most recent message.
func (l *Log) Fetch(ctx context.Context, chatID, before int64, limit int) ([]archive.Message, error) {
	if before <= 0 {
		before = 1<<63 - 1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT message_id, author_id, author, is_bot, text, sent_at
		FROM messages
		WHERE chat_id = ? AND message_id < ?
		ORDER BY message_id DESC
		LIMIT ?`, chatID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var out []archive.Message
	for rows.Next() {
		var (
			m      archive.Message
			isBot  int
			sentAt string
		)
		if err := rows.Scan(&m.ID, &m.AuthorID, &m.Author, &isBot, &m.Text, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.IsBot = isBot != 0
		m.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Count returns how many messages are journaled for chatID.
func (l *Log) Count(ctx context.Context, chatID int64) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chat %d: %w", chatID, err)
	}
	return n, nil
}

// Source returns an archive.Source over a single chat.
func (l *Log) Source(chatID int64) archive.Source {
	return chatSource{log: l, chatID: chatID}
}

type chatSource struct {
	log    *Log
	chatID int64
}

func (s chatSource) Fetch(ctx context.Context, before int64, limit int) ([]archive.Message, error) {
	return s.log.Fetch(ctx, s.chatID, before, limit)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
