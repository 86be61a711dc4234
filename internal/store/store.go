// Package store persists per-session context state and conversation history
// in SQLite. Access to a given session is serialized through a keyed lock so
// at most one turn per session is ever in flight.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
)

// SessionStore implements the durable session-id -> ContextState mapping
// plus the append-only conversation transcript.
type SessionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	locks  *keyedLocks
}

// NewSessionStore initializes the SQLite database at the given path.
func NewSessionStore(path string) (*SessionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSessionStore")
	defer timer.Stop()

	logging.Store("Initializing SessionStore at path: %s", path)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &SessionStore{
		db:     db,
		dbPath: path,
		locks:  newKeyedLocks(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SessionStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id         TEXT PRIMARY KEY,
			estimated_tokens   INTEGER NOT NULL DEFAULT 0,
			needs_compaction   INTEGER NOT NULL DEFAULT 0,
			summary            TEXT NOT NULL DEFAULT '',
			last_compaction_at TIMESTAMP,
			parts_in_flight    INTEGER NOT NULL DEFAULT 0,
			created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_history (
			session_id  TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, turn_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_session
			ON session_history (session_id, turn_number DESC)`,
		`CREATE TABLE IF NOT EXISTS user_sessions (
			user_id    TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			logging.StoreError("Migration failed: %v", err)
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Acquire locks the given session for one turn and returns the release
// function. Turns on different sessions proceed concurrently; turns on the
// same session queue here.
func (s *SessionStore) Acquire(sessionID string) func() {
	return s.locks.acquire(sessionID)
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
