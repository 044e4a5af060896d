package store

import (
	"fmt"
)

// Message is one normalized row of the mirrored conversation history.
// MessageID reuses the source ROWID, which keeps upserts idempotent.
type Message struct {
	MessageID int64  `json:"message_id"`
	UserID    string `json:"user_id"`
	Contents  string `json:"contents"`
	IsFromMe  bool   `json:"is_from_me"`
	CreatedAt string `json:"created_at"`
}

// UpsertMessages writes a batch, ignoring rows whose message_id already
// exists. Returns the number of rows actually inserted, so re-delivering an
// identical batch reports zero.
func (s *Store) UpsertMessages(batch []Message) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin message batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (message_id, user_id, contents, is_from_me, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range batch {
		res, err := stmt.Exec(m.MessageID, m.UserID, m.Contents, boolToInt(m.IsFromMe), m.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert message %d: %w", m.MessageID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit message batch: %w", err)
	}
	return inserted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
