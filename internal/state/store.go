// Package state persists the small bits of notifier state that must
// survive restarts, chiefly the chat thread token per session so repeated
// runs keep replying into the same thread.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the on-disk database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	session_id   TEXT PRIMARY KEY,
	thread_token TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}

	// WAL keeps writers from blocking the occasional concurrent reader.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// ThreadToken returns the stored token for a session, or "" when none
// has been saved yet.
func (s *Store) ThreadToken(sessionID string) (string, error) {
	var token string
	err := s.db.QueryRow(
		"SELECT thread_token FROM threads WHERE session_id = ?", sessionID,
	).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read thread token: %w", err)
	}
	return token, nil
}

// SaveThreadToken upserts the token for a session.
func (s *Store) SaveThreadToken(sessionID, token string) error {
	_, err := s.db.Exec(`
		INSERT INTO threads (session_id, thread_token, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			thread_token = excluded.thread_token,
			updated_at   = CURRENT_TIMESTAMP
	`, sessionID, token)
	if err != nil {
		return fmt.Errorf("failed to save thread token: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
