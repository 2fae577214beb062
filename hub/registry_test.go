package hub

import (
	"testing"

	"devsync-server/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Register("c1")
	r.Register("c1")
	assert.Equal(t, 1, r.Count())

	_, err := r.Identity("c1")
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, r.Authenticate("c1", &core.Identity{UserID: "u1"}))
	assert.ErrorIs(t, r.Authenticate("c1", &core.Identity{UserID: "u2"}), ErrIdentityChanged)
	assert.ErrorIs(t, r.Authenticate("c9", &core.Identity{UserID: "u1"}), ErrUnknownConnection)
	assert.ErrorIs(t, r.Authenticate("c1", &core.Identity{}), core.ErrUnauthorized)

	added, err := r.AddRoom("c1", "r2")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = r.AddRoom("c1", "r2")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = r.AddRoom("c1", "r1")
	require.NoError(t, err)

	conn, ok := r.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", conn.Identity.UserID)
	assert.Equal(t, []string{"r1", "r2"}, conn.Rooms)

	assert.True(t, r.RemoveRoom("c1", "r1"))
	assert.False(t, r.RemoveRoom("c1", "r1"))

	conn, ok = r.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, []string{"r2"}, conn.Rooms)
	_, ok = r.Unregister("c1")
	assert.False(t, ok)
	assert.Zero(t, r.Count())

	_, err = r.AddRoom("c1", "r1")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRegistryQueries(t *testing.T) {
	r := NewRegistry()
	for _, c := range []struct{ conn, user string }{{"c2", "u1"}, {"c1", "u1"}, {"c3", "u2"}} {
		r.Register(c.conn)
		require.NoError(t, r.Authenticate(c.conn, &core.Identity{UserID: c.user}))
	}
	r.Register("anon")
	r.AddRoom("c1", "r1")
	r.AddRoom("c3", "r1")
	r.AddRoom("c2", "r2")

	assert.Equal(t, []string{"c1", "c2"}, r.ConnectionsOf("u1"))
	assert.Equal(t, []string{"c1", "c3"}, r.ConnectionsIn("r1"))
	assert.Empty(t, r.ConnectionsOf("nobody"))
	assert.Equal(t, 4, r.Count())

	// Lookup hands out copies.
	conn, _ := r.Lookup("c1")
	conn.Rooms[0] = "tampered"
	again, _ := r.Lookup("c1")
	assert.Equal(t, []string{"r1"}, again.Rooms)
}
