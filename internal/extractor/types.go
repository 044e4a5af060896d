package extractor

import (
	"time"

	"github.com/Napageneral/chatfeed/internal/decode"
	"github.com/Napageneral/chatfeed/internal/store"
)

// SourceRecord is one row read from the source message table. Owned by the
// source; read-only here.
type SourceRecord struct {
	RowID          int64  `json:"rowid"`
	GUID           string `json:"guid"`
	Text           string `json:"text,omitempty"`
	AttributedBody []byte `json:"-"`
	HandleID       int64  `json:"handle_id"`
	Date           int64  `json:"date"`
	IsFromMe       bool   `json:"is_from_me"`
	Service        string `json:"service,omitempty"`

	// ExtractedText is filled in during the cycle.
	ExtractedText string `json:"extracted_text,omitempty"`
}

// PollResult is the structured outcome of one cycle.
type PollResult struct {
	Success            bool          `json:"success"`
	NewRecords         int           `json:"new_records"`
	Persisted          int           `json:"persisted"`
	LastProcessedRowID int64         `json:"last_processed_rowid"`
	Duration           time.Duration `json:"duration"`
	Err                string        `json:"error,omitempty"`
}

// StatusReport is what operators see when they ask how the loop is doing.
type StatusReport struct {
	Running      bool          `json:"running"`
	Cursor       store.Cursor  `json:"cursor"`
	PollInterval time.Duration `json:"poll_interval"`
	BatchSize    int           `json:"batch_size"`
	LastError    string        `json:"last_error,omitempty"`
	Decode       decode.Stats  `json:"decode"`
}

// IdentityResolver maps a source handle to a local user, creating a
// placeholder when the handle is unknown. Must be deterministic for a given
// handle across calls.
type IdentityResolver interface {
	Resolve(handleID int64) (store.User, error)
}

// Observer is notified after each successful cycle that found new records.
// A panicking observer is contained and logged; it cannot corrupt cursor
// state.
type Observer interface {
	OnNewRecords(records []SourceRecord, persisted int)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(records []SourceRecord, persisted int)

func (f ObserverFunc) OnNewRecords(records []SourceRecord, persisted int) {
	f(records, persisted)
}
