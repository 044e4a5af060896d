package store

import (
	"database/sql"
	"fmt"
	"time"
)

// User is a locally-resolved identity for a source-side handle.
type User struct {
	ID          string    `json:"user_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Email       string    `json:"email,omitempty"`
	HandleID    int64     `json:"handle_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetUserByHandle looks up the user mapped to a source handle id.
func (s *Store) GetUserByHandle(handleID int64) (User, bool, error) {
	var (
		u       User
		phone   sql.NullString
		email   sql.NullString
		created int64
	)
	err := s.db.QueryRow(`
		SELECT user_id, first_name, last_name, phone_number, email, created_at
		FROM users WHERE handle_id = ?
	`, handleID).Scan(&u.ID, &u.FirstName, &u.LastName, &phone, &email, &created)
	if err == sql.ErrNoRows {
		return u, false, nil
	}
	if err != nil {
		return u, false, fmt.Errorf("failed to get user by handle %d: %w", handleID, err)
	}
	u.PhoneNumber = phone.String
	u.Email = email.String
	u.HandleID = handleID
	u.CreatedAt = time.Unix(created, 0)
	return u, true, nil
}

// InsertUser persists a newly resolved user.
func (s *Store) InsertUser(u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, first_name, last_name, phone_number, email, handle_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.FirstName, u.LastName, nullable(u.PhoneNumber), nullable(u.Email), u.HandleID, u.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert user %s: %w", u.ID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
