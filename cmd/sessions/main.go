// sessions is a standalone read-only inspector for the bridge session
// database. It uses the pure-Go sqlite driver so it can be copied to a NAS
// without cgo and pointed at a live database.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := filepath.Join(defaultDataDir(), "sessions.db")
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Printf("Error opening DB: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if len(os.Args) > 2 {
		dumpHistory(db, os.Args[2])
		return
	}
	listSessions(db)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bridge"
	}
	return filepath.Join(home, ".bridge")
}

func listSessions(db *sql.DB) {
	rows, err := db.Query(`
		SELECT s.session_id,
		       COALESCE(u.user_id, '?') AS user_id,
		       s.estimated_tokens,
		       s.needs_compaction,
		       LENGTH(s.summary),
		       COALESCE((SELECT COUNT(*) FROM session_history h WHERE h.session_id = s.session_id), 0),
		       s.updated_at
		FROM sessions s
		LEFT JOIN user_sessions u ON u.session_id = s.session_id
		ORDER BY s.updated_at DESC`)
	if err != nil {
		fmt.Printf("Error querying sessions: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	fmt.Printf("%-38s %-8s %8s %6s %7s %6s  %s\n",
		"SESSION", "USER", "TOKENS", "COMP", "SUMLEN", "TURNS", "UPDATED")
	for rows.Next() {
		var (
			sessionID, userID, updated string
			tokens, sumLen, turns      int
			needsCompaction            int
		)
		if err := rows.Scan(&sessionID, &userID, &tokens, &needsCompaction, &sumLen, &turns, &updated); err != nil {
			fmt.Printf("Error scanning row: %v\n", err)
			continue
		}
		comp := "no"
		if needsCompaction != 0 {
			comp = "yes"
		}
		fmt.Printf("%-38s %-8s %8d %6s %7d %6d  %s\n",
			sessionID, userID, tokens, comp, sumLen, turns, updated)
	}
}

func dumpHistory(db *sql.DB, sessionID string) {
	var summary string
	if err := db.QueryRow(`SELECT summary FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&summary); err == nil && summary != "" {
		fmt.Printf("=== summary ===\n%s\n\n", summary)
	}

	rows, err := db.Query(`
		SELECT turn_number, role, content, created_at
		FROM session_history
		WHERE session_id = ?
		ORDER BY turn_number`, sessionID)
	if err != nil {
		fmt.Printf("Error querying history: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n             int
			role, content string
			created       string
		)
		if err := rows.Scan(&n, &role, &content, &created); err != nil {
			fmt.Printf("Error scanning row: %v\n", err)
			continue
		}
		fmt.Printf("--- #%d %s (%s) ---\n%s\n\n", n, role, created, content)
	}
}
