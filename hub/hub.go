// Package hub is the realtime core: it registers connections, gates every
// room-scoped event on membership, keeps presence current, relays signaling
// and document traffic, and sweeps per-room state on disconnect.
package hub

import (
	"context"
	"fmt"
	"sync"

	"devsync-server/core"
	"devsync-server/documents"
	"devsync-server/metrics"
	"devsync-server/presence"

	"github.com/sirupsen/logrus"
)

// Broadcaster is the transport's named broadcast groups.
type Broadcaster interface {
	// Join subscribes connID to the roomID group.
	Join(connID, roomID string)
	Leave(connID, roomID string)
	// Emit sends to connID only.
	Emit(connID, event string, args ...any)
	// Broadcast sends to every member of roomID except exceptConnID, which may be empty.
	Broadcast(roomID, exceptConnID, event string, args ...any)
}

// Membership answers whether an identity may act in a room.
type Membership interface {
	RequireMember(ctx context.Context, identity *core.Identity, roomID string) error
}

type Options struct {
	Verifier  core.IdentityVerifier
	Members   Membership
	Presence  *presence.Tracker
	Documents *documents.Coordinator
	Out       Broadcaster
	Metrics   *metrics.Metrics
}

type Hub struct {
	registry  *Registry
	verifier  core.IdentityVerifier
	members   Membership
	presence  *presence.Tracker
	documents *documents.Coordinator
	out       Broadcaster
	metrics   *metrics.Metrics

	// mu makes each registry/presence mutation and its fan-out one step.
	// Joins check membership under it so a concurrent MemberLeft either
	// sees the join or is seen by it. Document merges run outside it.
	mu sync.Mutex
}

func New(opts Options) *Hub {
	h := &Hub{
		registry:  NewRegistry(),
		verifier:  opts.Verifier,
		members:   opts.Members,
		presence:  opts.Presence,
		documents: opts.Documents,
		out:       opts.Out,
		metrics:   opts.Metrics,
	}
	if h.presence == nil {
		h.presence = presence.NewTracker()
	}
	if h.documents == nil {
		h.documents = documents.NewCoordinator(documents.Options{Activity: h.presence})
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Presence() *presence.Tracker { return h.presence }

func (h *Hub) Documents() *documents.Coordinator { return h.documents }

// Connect registers a new, not yet authenticated connection.
func (h *Hub) Connect(connID string) {
	h.registry.Register(connID)
	logrus.WithField("conn_id", connID).Debug("Connection registered")
}

// Authenticate verifies token once and binds the identity to connID.
func (h *Hub) Authenticate(ctx context.Context, connID, token string) (*core.Identity, error) {
	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		return nil, h.reject(connID, EventAuthenticate, "", err)
	}
	if err := h.registry.Authenticate(connID, identity); err != nil {
		return nil, h.reject(connID, EventAuthenticate, "", err)
	}

	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"user_id": identity.UserID,
	}).Info("Connection authenticated")
	return identity, nil
}

// identify resolves the sender's identity for an event addressed to roomID.
func (h *Hub) identify(connID, roomID string) (*core.Identity, error) {
	identity, err := h.registry.Identity(connID)
	if err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", core.ErrInvalidPayload)
	}
	return identity, nil
}

// gate resolves the sender's identity and re-checks its membership of roomID.
func (h *Hub) gate(ctx context.Context, connID, roomID string) (*core.Identity, error) {
	identity, err := h.identify(connID, roomID)
	if err != nil {
		return nil, err
	}
	if err := h.members.RequireMember(ctx, identity, roomID); err != nil {
		return nil, err
	}
	return identity, nil
}

// reject reports err to the originating connection only.
func (h *Hub) reject(connID, event, roomID string, err error) error {
	reason := core.Reason(err)
	h.metrics.Rejected(reason)

	log := logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"room_id": roomID,
		"event":   event,
	}).WithError(err)
	if isUnknown(err) {
		log.Debug("Event from closed connection dropped")
		return err
	}
	if reason == core.ErrService.Error() {
		log.Error("Event failed")
	} else {
		log.Info("Event rejected")
	}
	h.out.Emit(connID, EventError, reason)
	return err
}

// JoinRoom subscribes the connection to roomID and announces the presence
// change to the room.
func (h *Hub) JoinRoom(ctx context.Context, connID, roomID string) error {
	return h.join(ctx, connID, roomID, EventJoinRoom, EventRoomUsers)
}

// TrackPresence is JoinRoom answered with active-users and no user-joined.
func (h *Hub) TrackPresence(ctx context.Context, connID, roomID string) error {
	return h.join(ctx, connID, roomID, EventTrackPresence, EventActiveUsers)
}

func (h *Hub) join(ctx context.Context, connID, roomID, event, usersEvent string) error {
	identity, err := h.identify(connID, roomID)
	if err != nil {
		return h.reject(connID, event, roomID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.members.RequireMember(ctx, identity, roomID); err != nil {
		return h.reject(connID, event, roomID, err)
	}
	added, err := h.registry.AddRoom(connID, roomID)
	if err != nil {
		return h.reject(connID, event, roomID, err)
	}
	if added {
		h.out.Join(connID, roomID)
	}
	present := h.presence.TrackJoin(roomID, identity.UserID, connID)
	active := h.presence.Active(roomID)

	if !present {
		// Set unchanged; only the requester needs it.
		h.out.Emit(connID, usersEvent, active)
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"room_id": roomID,
		"user_id": identity.UserID,
	}).Info("User joined room")
	if usersEvent == EventRoomUsers {
		h.out.Broadcast(roomID, connID, EventUserJoined, UserEvent{UserID: identity.UserID})
	}
	h.out.Broadcast(roomID, "", usersEvent, active)
	return nil
}

// LeaveRoom drops the connection's join of roomID. Membership is untouched.
func (h *Hub) LeaveRoom(ctx context.Context, connID, roomID string) error {
	identity, err := h.registry.Identity(connID)
	if err != nil {
		return h.reject(connID, EventLeaveRoom, roomID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.registry.RemoveRoom(connID, roomID) {
		return nil
	}
	h.out.Leave(connID, roomID)
	if !h.presence.TrackLeave(roomID, identity.UserID, connID) {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"room_id": roomID,
		"user_id": identity.UserID,
	}).Info("User left room")
	h.out.Broadcast(roomID, "", EventUserLeft, UserEvent{UserID: identity.UserID})
	h.out.Broadcast(roomID, "", EventRoomUsers, h.presence.Active(roomID))
	return nil
}

// GetActiveUsers replies with the room's presence set to the requester only.
func (h *Hub) GetActiveUsers(ctx context.Context, connID, roomID string) error {
	if _, err := h.gate(ctx, connID, roomID); err != nil {
		return h.reject(connID, EventGetActiveUsers, roomID, err)
	}
	h.out.Emit(connID, EventActiveUsers, h.presence.Active(roomID))
	return nil
}

// CodeUpdate merges update into the room document and relays the raw bytes
// to every other connection of the room.
func (h *Hub) CodeUpdate(ctx context.Context, connID, roomID string, update []byte) error {
	if _, err := h.gate(ctx, connID, roomID); err != nil {
		return h.reject(connID, EventCodeUpdate, roomID, err)
	}
	if len(update) == 0 {
		return h.reject(connID, EventCodeUpdate, roomID, fmt.Errorf("%w: update is empty", core.ErrInvalidPayload))
	}
	if err := h.documents.ApplyUpdate(roomID, update); err != nil {
		return h.reject(connID, EventCodeUpdate, roomID, err)
	}
	h.metrics.DocumentUpdate()

	h.out.Broadcast(roomID, connID, EventCodeUpdate, update)
	h.metrics.Relayed(EventCodeUpdate)
	return nil
}

// RequestInitialState sends the room document's full state to the requester.
// A connection that has not joined roomID joins it first, so every update
// missing from the snapshot is relayed to it afterwards.
func (h *Hub) RequestInitialState(ctx context.Context, connID, roomID string) error {
	if !h.registry.Joined(connID, roomID) {
		if err := h.join(ctx, connID, roomID, EventRequestInitialState, EventRoomUsers); err != nil {
			return err
		}
	} else if _, err := h.gate(ctx, connID, roomID); err != nil {
		return h.reject(connID, EventRequestInitialState, roomID, err)
	}
	state, err := h.documents.Snapshot(roomID)
	if err != nil {
		return h.reject(connID, EventRequestInitialState, roomID, err)
	}
	h.out.Emit(connID, EventInitialState, state)
	return nil
}

// Disconnect sweeps every room connID had joined. Each room whose presence
// changed gets a single room-users broadcast.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.registry.Unregister(connID)
	if !ok {
		return
	}
	log := logrus.WithField("conn_id", connID)
	if conn.Identity == nil {
		log.Debug("Unauthenticated connection closed")
		return
	}

	for _, roomID := range conn.Rooms {
		h.out.Leave(connID, roomID)
		if h.presence.TrackLeave(roomID, conn.Identity.UserID, connID) {
			h.out.Broadcast(roomID, connID, EventRoomUsers, h.presence.Active(roomID))
		}
	}
	log.WithFields(logrus.Fields{
		"user_id": conn.Identity.UserID,
		"rooms":   conn.Rooms,
	}).Info("Connection closed")
}

// RoomDeleted evicts every connection, the presence set and the document of
// roomID.
func (h *Hub) RoomDeleted(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, connID := range h.registry.ConnectionsIn(roomID) {
		h.registry.RemoveRoom(connID, roomID)
		h.out.Emit(connID, EventRoomDeleted, RoomEvent{RoomID: roomID})
		h.out.Leave(connID, roomID)
	}
	evicted := h.presence.Evict(roomID)
	h.documents.Evict(roomID)

	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"users":   evicted,
	}).Info("Room state evicted")
}

// MemberLeft drops userID's connections from roomID after its membership
// ended.
func (h *Hub) MemberLeft(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	left := false
	for _, connID := range h.registry.ConnectionsOf(userID) {
		if !h.registry.RemoveRoom(connID, roomID) {
			continue
		}
		h.out.Leave(connID, roomID)
		if h.presence.TrackLeave(roomID, userID, connID) {
			left = true
		}
	}
	if !left {
		return
	}

	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": userID,
	}).Info("Member removed from room")
	h.out.Broadcast(roomID, "", EventUserLeft, UserEvent{UserID: userID})
	h.out.Broadcast(roomID, "", EventRoomUsers, h.presence.Active(roomID))
}
