package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Napageneral/chatfeed/internal/db"
	"github.com/Napageneral/chatfeed/internal/identity"
	"github.com/Napageneral/chatfeed/internal/store"
)

func newTestResolver(t *testing.T) *identity.Resolver {
	t.Helper()
	t.Setenv("CHATFEED_DATA_DIR", t.TempDir())
	require.NoError(t, db.Init())
	d, err := db.Open()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return identity.NewResolver(store.New(d))
}

func TestResolve_CreatesPlaceholderOnce(t *testing.T) {
	r := newTestResolver(t)

	first, err := r.Resolve(12)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.EqualValues(t, 12, first.HandleID)
	require.Empty(t, first.FirstName)

	// Same handle must resolve to the same stored user.
	second, err := r.Resolve(12)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestResolve_DistinctHandles(t *testing.T) {
	r := newTestResolver(t)

	a, err := r.Resolve(1)
	require.NoError(t, err)
	b, err := r.Resolve(2)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}
