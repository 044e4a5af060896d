package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Status is the sync cursor state machine value, stored lowercase.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusPolling     Status = "polling"
	StatusSyncing     Status = "syncing"
	StatusIdle        Status = "idle"
	StatusError       Status = "error"
	StatusStopped     Status = "stopped"
)

// Cursor is the persisted incremental-sync position. There is exactly one
// logical cursor row; it is the single source of truth for what has been
// processed.
type Cursor struct {
	LastProcessedRowID int64     `json:"last_processed_rowid"`
	TotalProcessed     int64     `json:"total_messages_processed"`
	Status             Status    `json:"sync_status"`
	LastError          string    `json:"last_error,omitempty"`
	LastSyncAt         time.Time `json:"last_sync_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// InitCursor creates the cursor row if it does not exist. Idempotent: an
// existing row is left untouched.
func (s *Store) InitCursor() error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO sync_state (id, last_processed_rowid, total_messages_processed, sync_status, created_at, updated_at)
		VALUES (1, 0, 0, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, string(StatusInitialized), now, now)
	if err != nil {
		return fmt.Errorf("failed to initialize sync state: %w", err)
	}
	return nil
}

// GetCursor reads the cursor row. Returns sql.ErrNoRows if InitCursor has
// never run.
func (s *Store) GetCursor() (Cursor, error) {
	var (
		c        Cursor
		status   string
		lastSync sql.NullInt64
		created  int64
		updated  int64
	)
	err := s.db.QueryRow(`
		SELECT last_processed_rowid, total_messages_processed, sync_status, last_error, last_sync_at, created_at, updated_at
		FROM sync_state WHERE id = 1
	`).Scan(&c.LastProcessedRowID, &c.TotalProcessed, &status, &c.LastError, &lastSync, &created, &updated)
	if err != nil {
		return c, err
	}
	c.Status = Status(status)
	if lastSync.Valid {
		c.LastSyncAt = time.Unix(lastSync.Int64, 0)
	}
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return c, nil
}

// AdvanceCursor moves the cursor forward after a successfully synced batch.
// The stored position never decreases, and the processed counter accumulates
// the number of records fetched in the batch.
func (s *Store) AdvanceCursor(lastRowID int64, processed int64, status Status) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE sync_state SET
			last_processed_rowid = MAX(last_processed_rowid, ?),
			total_messages_processed = total_messages_processed + ?,
			sync_status = ?,
			last_error = '',
			last_sync_at = ?,
			updated_at = ?
		WHERE id = 1
	`, lastRowID, processed, string(status), now, now)
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}

// SetStatus records the state machine transition without moving the cursor.
// lastErr is cleared when empty.
func (s *Store) SetStatus(status Status, lastErr string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE sync_state SET
			sync_status = ?,
			last_error = ?,
			last_sync_at = ?,
			updated_at = ?
		WHERE id = 1
	`, string(status), lastErr, now, now)
	if err != nil {
		return fmt.Errorf("failed to set sync status: %w", err)
	}
	return nil
}
