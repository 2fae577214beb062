package documents

import (
	"context"
	"sync"
	"testing"
	"time"

	"devsync-server/core"
	"devsync-server/crdt"
	"devsync-server/crdt/yjstest"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activeRooms map[string]bool

func (a activeRooms) IsActive(roomID string) bool { return a[roomID] }

func newCoordinator(t *testing.T, active ActivityChecker) (*Coordinator, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	return NewCoordinator(Options{
		Engine:        crdt.YjsEngine{},
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
		Activity:      active,
		Clock:         mock,
	}), mock
}

// edit is a client's first keystrokes in an empty document.
func edit(client uint64, text string) []byte {
	return yjstest.Insert(client, 0, nil, text)
}

func TestApplyUpdateCreatesLazily(t *testing.T) {
	c, _ := newCoordinator(t, nil)

	_, ok := c.Content("r1")
	assert.False(t, ok)

	require.NoError(t, c.ApplyUpdate("r1", edit(1, "hi")))
	content, ok := c.Content("r1")
	require.True(t, ok)
	assert.Equal(t, "hi", content)
	assert.Equal(t, []string{"r1"}, c.Rooms())
}

func TestApplyTwiceSameContent(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	u := edit(1, "hello")

	require.NoError(t, c.ApplyUpdate("r1", u))
	once, _ := c.Content("r1")
	require.NoError(t, c.ApplyUpdate("r1", u))
	twice, _ := c.Content("r1")

	assert.Equal(t, once, twice)
}

func TestMalformedUpdateIsInvalidPayload(t *testing.T) {
	c, _ := newCoordinator(t, nil)

	err := c.ApplyUpdate("r1", nil)
	assert.ErrorIs(t, err, core.ErrInvalidPayload)

	// A truncated varint never panics and never reaches the document.
	if err := c.ApplyUpdate("r1", []byte{0xc1}); err != nil {
		assert.ErrorIs(t, err, core.ErrInvalidPayload)
	}
	require.NoError(t, c.ApplyUpdate("r1", edit(1, "ok")))
	content, _ := c.Content("r1")
	assert.Equal(t, "ok", content)

	err = c.ApplyUpdate("", edit(1, "x"))
	assert.ErrorIs(t, err, core.ErrInvalidPayload)
}

func TestRoomsAreIndependent(t *testing.T) {
	c, _ := newCoordinator(t, nil)

	require.NoError(t, c.ApplyUpdate("r1", edit(1, "one")))
	require.NoError(t, c.ApplyUpdate("r2", edit(2, "two")))

	one, _ := c.Content("r1")
	two, _ := c.Content("r2")
	assert.Equal(t, "one", one)
	assert.Equal(t, "two", two)
}

// A late joiner that applies the snapshot and then every update broadcast
// after its request, in any order, converges with the room.
func TestSnapshotThenLateUpdatesConverge(t *testing.T) {
	c, _ := newCoordinator(t, nil)

	u1 := yjstest.Insert(1, 0, nil, "hello")
	require.NoError(t, c.ApplyUpdate("r1", u1))

	snapshot, err := c.Snapshot("r1")
	require.NoError(t, err)

	u2 := yjstest.Insert(1, 5, &yjstest.ID{Client: 1, Clock: 4}, " world")
	require.NoError(t, c.ApplyUpdate("r1", u2))

	// u2 reaches the joiner before the snapshot does.
	joiner := crdt.NewYDoc()
	require.NoError(t, joiner.Apply(u2))
	require.NoError(t, joiner.Merge(snapshot))
	require.NoError(t, joiner.Apply(u2))

	content, _ := c.Content("r1")
	assert.Equal(t, "hello world", content)
	assert.Equal(t, content, joiner.Content())
}

func TestEvict(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	require.NoError(t, c.ApplyUpdate("r1", edit(1, "x")))

	assert.True(t, c.Evict("r1"))
	assert.False(t, c.Evict("r1"))
	_, ok := c.Content("r1")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestSweepEvictsIdleRoomsWithoutPresence(t *testing.T) {
	active := activeRooms{"busy": true}
	c, mock := newCoordinator(t, active)

	require.NoError(t, c.ApplyUpdate("busy", edit(1, "a")))
	require.NoError(t, c.ApplyUpdate("idle", edit(2, "b")))
	require.NoError(t, c.ApplyUpdate("recent", edit(3, "c")))

	mock.Add(20 * time.Minute)
	_, err := c.Snapshot("recent")
	require.NoError(t, err)
	assert.Empty(t, c.Sweep())

	mock.Add(15 * time.Minute)
	assert.Equal(t, []string{"idle"}, c.Sweep())
	assert.Equal(t, []string{"busy", "recent"}, c.Rooms())

	mock.Add(30 * time.Minute)
	assert.Equal(t, []string{"recent"}, c.Sweep())
	assert.Equal(t, []string{"busy"}, c.Rooms())
}

func TestSweepDisabled(t *testing.T) {
	c := NewCoordinator(Options{Clock: clock.NewMock()})
	require.NoError(t, c.ApplyUpdate("r1", edit(1, "x")))
	assert.Empty(t, c.Sweep())
}

func TestRunSweepsOnTicker(t *testing.T) {
	c, mock := newCoordinator(t, nil)
	require.NoError(t, c.ApplyUpdate("r1", edit(1, "x")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Minute)
		return c.Len() == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestConcurrentApplyAndSweep(t *testing.T) {
	c, mock := newCoordinator(t, nil)

	updates := make([][]byte, 8)
	for i := range updates {
		updates[i] = edit(uint64(i+1), "x")
	}

	var wg sync.WaitGroup
	for _, u := range updates {
		wg.Add(1)
		go func(u []byte) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, c.ApplyUpdate("r1", u))
			}
		}(u)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			mock.Add(time.Hour)
			c.Sweep()
		}
	}()
	wg.Wait()
}
