package websocket

import (
	"context"
	"sort"
	"sync"
	"testing"

	"devsync-server/core"
	"devsync-server/crdt/yjstest"
	"devsync-server/hub"
	"devsync-server/membership"
	"devsync-server/stores/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type sent struct {
	Event string
	Args  []any
}

// groups stands in for socket.io rooms so the hub's fan-out can be read back.
type groups struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	inbox   map[string][]sent
}

func newGroups() *groups {
	return &groups{members: map[string]map[string]bool{}, inbox: map[string][]sent{}}
}

func (g *groups) Join(connID, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members[roomID] == nil {
		g.members[roomID] = map[string]bool{}
	}
	g.members[roomID][connID] = true
}

func (g *groups) Leave(connID, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members[roomID], connID)
}

func (g *groups) Emit(connID, event string, args ...any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inbox[connID] = append(g.inbox[connID], sent{event, args})
}

func (g *groups) Broadcast(roomID, exceptConnID, event string, args ...any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for connID := range g.members[roomID] {
		if connID != exceptConnID {
			g.inbox[connID] = append(g.inbox[connID], sent{event, args})
		}
	}
}

func (g *groups) drain(connID string) []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs := g.inbox[connID]
	delete(g.inbox, connID)
	return msgs
}

type staticTokens map[string]string

func (tk staticTokens) Verify(_ context.Context, token string) (*core.Identity, error) {
	userID, ok := tk[token]
	if !ok {
		return nil, core.ErrUnauthorized
	}
	return &core.Identity{UserID: userID}, nil
}

type collabFixture struct {
	server  *Server
	hub     *hub.Hub
	out     *groups
	members *membership.Service
	ctx     context.Context
}

func newCollabFixture(t *testing.T) *collabFixture {
	t.Helper()
	members := membership.NewService(memory.NewStore())
	out := newGroups()
	h := hub.New(hub.Options{
		Verifier: staticTokens{"tok-a": "A", "tok-b": "B"},
		Members:  members,
		Out:      out,
	})
	members.Subscribe(h)
	return &collabFixture{
		server:  &Server{hub: h, sockets: make(map[string]*socketio.Socket)},
		hub:     h,
		out:     out,
		members: members,
		ctx:     context.Background(),
	}
}

func (f *collabFixture) send(connID, event string, datas ...any) {
	f.server.dispatch(f.ctx, connID, f.server.handlers()[event], datas)
}

func (f *collabFixture) room(t *testing.T) string {
	t.Helper()
	room, err := f.members.CreateRoom(f.ctx, &core.Identity{UserID: "A"}, "pairing")
	require.NoError(t, err)
	_, err = f.members.Join(f.ctx, &core.Identity{UserID: "B"}, room.ID)
	require.NoError(t, err)
	return room.ID
}

func TestEveryClientEventIsHandled(t *testing.T) {
	f := newCollabFixture(t)

	var names []string
	for event := range f.server.handlers() {
		names = append(names, event)
	}
	sort.Strings(names)

	want := []string{
		hub.EventAnswer, hub.EventAuthenticate, hub.EventCodeUpdate, hub.EventGetActiveUsers,
		hub.EventICECandidate, hub.EventJoinRoom, hub.EventLeaveRoom, hub.EventOffer,
		hub.EventRequestInitialState, hub.EventTrackPresence,
	}
	sort.Strings(want)
	assert.Equal(t, want, names)
}

func TestHandshakeTokenAuthenticates(t *testing.T) {
	f := newCollabFixture(t)

	f.server.connect(f.ctx, "c1", map[string]any{"token": "tok-a"})
	identity, err := f.hub.Registry().Identity("c1")
	require.NoError(t, err)
	assert.Equal(t, "A", identity.UserID)

	f.server.connect(f.ctx, "c2", nil)
	_, err = f.hub.Registry().Identity("c2")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.Empty(t, f.out.drain("c2"))

	f.server.connect(f.ctx, "c3", map[string]any{"token": "bogus"})
	_, err = f.hub.Registry().Identity("c3")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.Equal(t, []sent{{hub.EventError, []any{"unauthorized"}}}, f.out.drain("c3"))
}

func TestAuthenticateEvent(t *testing.T) {
	f := newCollabFixture(t)
	f.server.connect(f.ctx, "c1", nil)

	var ack map[string]any
	f.send("c1", hub.EventAuthenticate, map[string]any{"token": "tok-b"}, func(err error, payload map[string]any) {
		ack = payload
	})
	assert.Equal(t, "ok", ack["status"])
	identity, err := f.hub.Registry().Identity("c1")
	require.NoError(t, err)
	assert.Equal(t, "B", identity.UserID)

	f.send("c1", hub.EventAuthenticate, func(err error, payload map[string]any) {
		ack = payload
	})
	assert.Equal(t, map[string]any{"status": "error", "error": "unauthorized"}, ack)
}

func TestEventsReachTheHub(t *testing.T) {
	f := newCollabFixture(t)
	roomID := f.room(t)
	f.server.connect(f.ctx, "ca", map[string]any{"token": "tok-a"})
	f.server.connect(f.ctx, "cb", map[string]any{"token": "tok-b"})

	f.send("ca", hub.EventJoinRoom, roomID)
	f.send("cb", hub.EventJoinRoom, map[string]any{"roomId": roomID})
	assert.Equal(t, []string{"A", "B"}, f.hub.Presence().Active(roomID))
	f.out.drain("ca")
	f.out.drain("cb")

	f.send("ca", hub.EventOffer, map[string]any{"roomId": roomID, "offer": "sdp-a"})
	f.send("cb", hub.EventAnswer, map[string]any{"roomId": roomID, "answer": "sdp-b"})
	f.send("ca", hub.EventICECandidate, map[string]any{"roomId": roomID, "candidate": "cand"})
	assert.Equal(t, []sent{
		{hub.EventOffer, []any{map[string]any{"offer": "sdp-a", "sender": "A"}}},
		{hub.EventICECandidate, []any{map[string]any{"candidate": "cand", "sender": "A"}}},
	}, f.out.drain("cb"))
	assert.Equal(t, []sent{
		{hub.EventAnswer, []any{map[string]any{"answer": "sdp-b", "sender": "B"}}},
	}, f.out.drain("ca"))

	// A Uint8Array serialised as a JSON number array.
	update := yjstest.Insert(1, 0, nil, "hi")
	numbers := make([]any, len(update))
	for i, b := range update {
		numbers[i] = float64(b)
	}
	f.send("ca", hub.EventCodeUpdate, map[string]any{"roomId": roomID, "update": numbers})
	assert.Equal(t, []sent{{hub.EventCodeUpdate, []any{update}}}, f.out.drain("cb"))
	content, ok := f.hub.Documents().Content(roomID)
	require.True(t, ok)
	assert.Equal(t, "hi", content)

	f.send("cb", hub.EventRequestInitialState, roomID)
	inbox := f.out.drain("cb")
	require.Len(t, inbox, 1)
	assert.Equal(t, hub.EventInitialState, inbox[0].Event)

	f.send("cb", hub.EventGetActiveUsers, roomID)
	assert.Equal(t, []sent{{hub.EventActiveUsers, []any{[]string{"A", "B"}}}}, f.out.drain("cb"))

	f.send("cb", hub.EventLeaveRoom, roomID)
	assert.Equal(t, []string{"A"}, f.hub.Presence().Active(roomID))

	f.server.disconnect("ca")
	assert.Empty(t, f.hub.Presence().Active(roomID))
	_, ok = f.hub.Registry().Lookup("ca")
	assert.False(t, ok)
}

func TestMalformedPayloadNeverReachesTheHub(t *testing.T) {
	f := newCollabFixture(t)
	roomID := f.room(t)
	f.server.connect(f.ctx, "ca", map[string]any{"token": "tok-a"})

	var ack map[string]any
	record := func(err error, payload map[string]any) { ack = payload }

	f.send("ca", hub.EventJoinRoom, 42, record)
	assert.Equal(t, map[string]any{"status": "error", "error": "invalid payload"}, ack)
	assert.Empty(t, f.hub.Presence().Active(roomID))

	f.send("ca", hub.EventCodeUpdate, map[string]any{"roomId": roomID, "update": "not bytes"}, record)
	assert.Equal(t, "invalid payload", ack["error"])
	_, ok := f.hub.Documents().Content(roomID)
	assert.False(t, ok)

	f.send("ca", hub.EventOffer, map[string]any{"roomId": roomID}, record)
	assert.Equal(t, "invalid payload", ack["error"])

	f.send("ca", hub.EventJoinRoom, roomID, record)
	assert.Equal(t, map[string]any{"status": "ok"}, ack)
}
