package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/contextmgr"
	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
)

// GetState returns the persisted context state for a session. The second
// return value reports whether the session exists.
func (s *SessionStore) GetState(sessionID string) (contextmgr.ContextState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		state       contextmgr.ContextState
		needsCompat int
		compactedAt sql.NullTime
	)
	err := s.db.QueryRow(`
		SELECT estimated_tokens, needs_compaction, summary, last_compaction_at, parts_in_flight
		FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&state.EstimatedTokens, &needsCompat, &state.Summary, &compactedAt, &state.PartsInFlight)
	if err == sql.ErrNoRows {
		return contextmgr.ContextState{}, false, nil
	}
	if err != nil {
		logging.StoreError("GetState %s failed: %v", sessionID, err)
		return contextmgr.ContextState{}, false, fmt.Errorf("get state: %w", err)
	}

	state.NeedsCompaction = needsCompat != 0
	if compactedAt.Valid {
		t := compactedAt.Time
		state.LastCompactionAt = &t
	}
	return state, true, nil
}

// GetOrCreateState returns the session's state, creating an empty session
// row the first time a session id is seen.
func (s *SessionStore) GetOrCreateState(sessionID string) (contextmgr.ContextState, error) {
	state, ok, err := s.GetState(sessionID)
	if err != nil {
		return contextmgr.ContextState{}, err
	}
	if ok {
		return state, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`INSERT OR IGNORE INTO sessions (session_id) VALUES (?)`, sessionID)
	if err != nil {
		logging.StoreError("Create session %s failed: %v", sessionID, err)
		return contextmgr.ContextState{}, fmt.Errorf("create session: %w", err)
	}
	logging.Store("Created session %s", sessionID)
	return contextmgr.ContextState{}, nil
}

// UpdateState overwrites the persisted context state for a session.
func (s *SessionStore) UpdateState(sessionID string, state contextmgr.ContextState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	needsCompat := 0
	if state.NeedsCompaction {
		needsCompat = 1
	}
	var compactedAt interface{}
	if state.LastCompactionAt != nil {
		compactedAt = state.LastCompactionAt.UTC()
	}

	res, err := s.db.Exec(`
		UPDATE sessions
		SET estimated_tokens = ?, needs_compaction = ?, summary = ?,
		    last_compaction_at = ?, parts_in_flight = ?, updated_at = CURRENT_TIMESTAMP
		WHERE session_id = ?`,
		state.EstimatedTokens, needsCompat, state.Summary, compactedAt, state.PartsInFlight, sessionID)
	if err != nil {
		logging.StoreError("UpdateState %s failed: %v", sessionID, err)
		return fmt.Errorf("update state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update state: session %s not found", sessionID)
	}

	logging.StoreDebug("Updated session %s: tokens=%d needs_compaction=%v parts=%d",
		sessionID, state.EstimatedTokens, state.NeedsCompaction, state.PartsInFlight)
	return nil
}

// DeleteSession removes a session's state and transcript.
func (s *SessionStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM session_history WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	logging.Store("Deleted session %s", sessionID)
	return nil
}

// ResolveSession maps a chat user to their session id, minting a fresh one
// for users seen for the first time.
func (s *SessionStore) ResolveSession(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessionID string
	err := s.db.QueryRow(`SELECT session_id FROM user_sessions WHERE user_id = ?`, userID).
		Scan(&sessionID)
	if err == nil {
		return sessionID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("resolve session: %w", err)
	}

	sessionID = uuid.NewString()
	if _, err := s.db.Exec(`INSERT INTO user_sessions (user_id, session_id) VALUES (?, ?)`,
		userID, sessionID); err != nil {
		return "", fmt.Errorf("bind session: %w", err)
	}
	logging.Store("Bound user %s to new session %s", userID, sessionID)
	return sessionID, nil
}

// ResetUser detaches a user from their session and deletes the session's
// state and transcript. The user's next message starts a fresh session.
func (s *SessionStore) ResetUser(userID string) error {
	s.mu.Lock()
	var sessionID string
	err := s.db.QueryRow(`SELECT session_id FROM user_sessions WHERE user_id = ?`, userID).
		Scan(&sessionID)
	if err == sql.ErrNoRows {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("reset user: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM user_sessions WHERE user_id = ?`, userID); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("reset user: %w", err)
	}
	s.mu.Unlock()

	return s.DeleteSession(sessionID)
}

// AppendTurn records one conversation turn at the end of a session's
// transcript.
func (s *SessionStore) AppendTurn(sessionID string, turn contextmgr.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO session_history (session_id, turn_number, role, content, created_at)
		VALUES (?, (SELECT COALESCE(MAX(turn_number), 0) + 1 FROM session_history WHERE session_id = ?), ?, ?, ?)`,
		sessionID, sessionID, string(turn.Role), turn.Content, ts.UTC())
	if err != nil {
		logging.StoreError("AppendTurn %s failed: %v", sessionID, err)
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent turns in chronological order. It
// satisfies the transcript interface the compaction pass reads from.
func (s *SessionStore) Recent(ctx context.Context, sessionID string, limit int) ([]contextmgr.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM session_history
		WHERE session_id = ?
		ORDER BY turn_number DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		logging.StoreError("Recent %s failed: %v", sessionID, err)
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var turns []contextmgr.ConversationTurn
	for rows.Next() {
		var (
			role    string
			turn    contextmgr.ConversationTurn
			created time.Time
		)
		if err := rows.Scan(&role, &turn.Content, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = contextmgr.Role(role)
		turn.Timestamp = created
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}

	// Rows came back newest-first; flip to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// TrimToTail deletes all but the last tail turns of a session's transcript.
// Called after a successful compaction, when everything older than the kept
// tail is represented by the rolling summary.
func (s *SessionStore) TrimToTail(sessionID string, tail int) error {
	if tail < 0 {
		tail = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM session_history
		WHERE session_id = ?
		  AND turn_number <= (SELECT COALESCE(MAX(turn_number), 0) - ? FROM session_history WHERE session_id = ?)`,
		sessionID, tail, sessionID)
	if err != nil {
		logging.StoreError("TrimToTail %s failed: %v", sessionID, err)
		return fmt.Errorf("trim history: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.StoreDebug("Trimmed %d turns from session %s (tail=%d)", n, sessionID, tail)
	}
	return nil
}

// HistoryLength returns the number of stored turns for a session.
func (s *SessionStore) HistoryLength(sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM session_history WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("history length: %w", err)
	}
	return n, nil
}

// ListSessions returns all known session ids, most recently updated first.
func (s *SessionStore) ListSessions() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT session_id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
