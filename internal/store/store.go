// Package store owns the local mirror database: the normalized message
// table, the user table populated by identity resolution, and the single
// sync cursor row that records incremental progress.
package store

import (
	"database/sql"
)

// Store wraps the local chatfeed database.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Stats summarizes the local mirror for status reporting.
type Stats struct {
	MessageCount int64 `json:"message_count"`
	UserCount    int64 `json:"user_count"`
	MaxMessageID int64 `json:"max_message_id"`
}

// GetStats returns row counts and the highest mirrored message id.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&st.MessageCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&st.UserCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(message_id), 0) FROM messages`).Scan(&st.MaxMessageID); err != nil {
		return st, err
	}
	return st, nil
}
