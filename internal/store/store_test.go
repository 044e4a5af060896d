package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Napageneral/chatfeed/internal/db"
	"github.com/Napageneral/chatfeed/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	t.Setenv("CHATFEED_DATA_DIR", t.TempDir())
	require.NoError(t, db.Init())
	d, err := db.Open()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return store.New(d)
}

func TestInitCursor_Idempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.InitCursor())
	c1, err := s.GetCursor()
	require.NoError(t, err)
	require.EqualValues(t, 0, c1.LastProcessedRowID)
	require.Equal(t, store.StatusInitialized, c1.Status)

	require.NoError(t, s.AdvanceCursor(42, 10, store.StatusIdle))

	// A second init must not reset progress.
	require.NoError(t, s.InitCursor())
	c2, err := s.GetCursor()
	require.NoError(t, err)
	require.EqualValues(t, 42, c2.LastProcessedRowID)
	require.EqualValues(t, 10, c2.TotalProcessed)
}

func TestAdvanceCursor_Monotonic(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InitCursor())

	require.NoError(t, s.AdvanceCursor(10, 5, store.StatusIdle))
	require.NoError(t, s.AdvanceCursor(7, 2, store.StatusIdle))

	c, err := s.GetCursor()
	require.NoError(t, err)
	require.EqualValues(t, 10, c.LastProcessedRowID, "cursor must never move backwards")
	require.EqualValues(t, 7, c.TotalProcessed)
}

func TestSetStatus_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InitCursor())

	require.NoError(t, s.SetStatus(store.StatusError, "source unreadable"))
	c, err := s.GetCursor()
	require.NoError(t, err)
	require.Equal(t, store.StatusError, c.Status)
	require.Equal(t, "source unreadable", c.LastError)

	require.NoError(t, s.SetStatus(store.StatusIdle, ""))
	c, err = s.GetCursor()
	require.NoError(t, err)
	require.Equal(t, store.StatusIdle, c.Status)
	require.Empty(t, c.LastError)
}

func TestUpsertMessages_Idempotent(t *testing.T) {
	s := newTestStore(t)

	user := store.User{ID: "user-1", HandleID: 7, CreatedAt: time.Now()}
	require.NoError(t, s.InsertUser(user))

	batch := []store.Message{
		{MessageID: 1, UserID: "user-1", Contents: "hello", CreatedAt: "2024-05-01T10:00:00Z"},
		{MessageID: 2, UserID: "user-1", Contents: "there", IsFromMe: true, CreatedAt: "2024-05-01T10:00:05Z"},
	}

	n, err := s.UpsertMessages(batch)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Identical re-delivery inserts nothing and changes nothing.
	n, err = s.UpsertMessages(batch)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	stats, err := s.GetStats()
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.MessageCount)
	require.EqualValues(t, 2, stats.MaxMessageID)
	require.EqualValues(t, 1, stats.UserCount)
}

func TestUpsertMessages_EmptyBatch(t *testing.T) {
	s := newTestStore(t)
	n, err := s.UpsertMessages(nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestGetUserByHandle(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.GetUserByHandle(3)
	require.NoError(t, err)
	require.False(t, found)

	u := store.User{ID: "user-3", FirstName: "Ada", HandleID: 3, PhoneNumber: "+15555550123"}
	require.NoError(t, s.InsertUser(u))

	got, found, err := s.GetUserByHandle(3)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "user-3", got.ID)
	require.Equal(t, "Ada", got.FirstName)
	require.Equal(t, "+15555550123", got.PhoneNumber)
}
