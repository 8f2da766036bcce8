package conversation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Archive is an append-only SQLite log of conversation turns, kept
// separately from the in-memory window. The window caps what the model
// sees; the archive keeps everything for the operator. Writes are
// best-effort — callers log archive errors and move on, they never let
// them disturb the conversation.
type Archive struct {
	db *sql.DB
}

// NewArchive opens (or creates) the archive database at path.
func NewArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migration: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
	`)
	return err
}

// Append records one turn under the given session.
func (a *Archive) Append(sessionID, role, content string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("turn id: %w", err)
	}

	_, err = a.db.Exec(`
		INSERT INTO turns (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), sessionID, role, content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("archive turn: %w", err)
	}
	return nil
}

// Turns returns all archived turns for a session in insertion order.
func (a *Archive) Turns(sessionID string) ([]Turn, error) {
	rows, err := a.db.Query(`
		SELECT role, content FROM turns
		WHERE session_id = ?
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// SessionCount returns how many distinct sessions the archive holds.
func (a *Archive) SessionCount() (int, error) {
	var n int
	err := a.db.QueryRow(`SELECT COUNT(DISTINCT session_id) FROM turns`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
