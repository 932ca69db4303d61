// Package history persists chat turns per session in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"go.uber.org/zap"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
    session_id INTEGER NOT NULL,
    seq        INTEGER NOT NULL,
    id         TEXT    NOT NULL UNIQUE,
    body       TEXT    NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// Store is a SQLite-backed chat history. Turns of one session are returned
// in the order they were appended.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open opens or creates the database at path. ":memory:" is accepted for
// tests.
func Open(ctx context.Context, path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database %s: %w", path, err)
	}
	// One writer; sequence numbers are assigned inside transactions.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing history database: %w", err)
		}
	}

	return &Store{db: db, logger: logger.Named("history")}, nil
}

// Append stores messages after the session's existing turns. Either all
// messages are stored or none are.
func (s *Store) Append(ctx context.Context, sessionID int64, messages []chat.Message) (err error) {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE session_id = ?`, sessionID,
	).Scan(&last); err != nil {
		return fmt.Errorf("reading last sequence for session %d: %w", sessionID, err)
	}

	for i, m := range messages {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding message %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (session_id, seq, id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, last+int64(i)+1, m.ID, string(body), m.Timestamp.Unix(),
		); err != nil {
			return fmt.Errorf("storing message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history: %w", err)
	}
	s.logger.Debug(ctx, "history appended",
		zap.Int64("session_id", sessionID),
		zap.Int("messages", len(messages)),
	)
	return nil
}

// Retrieve returns a session's turns, oldest first. A session without
// history yields an empty slice.
func (s *Store) Retrieve(ctx context.Context, sessionID int64) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM chat_messages WHERE session_id = ? ORDER BY seq ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history for session %d: %w", sessionID, err)
	}
	defer rows.Close()

	out := []chat.Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		var m chat.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("decoding history row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear deletes a session's turns.
func (s *Store) Clear(ctx context.Context, sessionID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("clearing history for session %d: %w", sessionID, err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info(ctx, "history cleared", zap.Int64("session_id", sessionID), zap.Int64("messages", n))
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
