package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"devsync-server/core"
)

var (
	ErrUnknownConnection = fmt.Errorf("%w: unknown connection", core.ErrUnauthorized)
	// ErrIdentityChanged is returned when an authenticated connection presents another user's token.
	ErrIdentityChanged = fmt.Errorf("%w: connection is already authenticated as another user", core.ErrForbidden)
)

// Connection is a point-in-time copy of a registered connection.
type Connection struct {
	ID       string
	Identity *core.Identity
	Rooms    []string
}

type entry struct {
	identity *core.Identity
	rooms    map[string]struct{}
}

// Registry exclusively owns live connections: their identity and the rooms
// each one has joined.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*entry)}
}

// Register adds connID without an identity. Registering twice is a no-op.
func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = &entry{rooms: make(map[string]struct{})}
	}
}

// Authenticate attaches identity to connID. The first identity sticks for
// the connection's lifetime.
func (r *Registry) Authenticate(connID string, identity *core.Identity) error {
	if identity == nil || identity.UserID == "" {
		return core.ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if e.identity != nil && e.identity.UserID != identity.UserID {
		return ErrIdentityChanged
	}
	e.identity = identity
	return nil
}

func (r *Registry) Lookup(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return e.snapshot(connID), true
}

// Identity returns the identity of connID, failing with core.ErrUnauthorized
// when the connection is unknown or has not authenticated.
func (r *Registry) Identity(connID string) (*core.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	if e.identity == nil {
		return nil, core.ErrUnauthorized
	}
	return e.identity, nil
}

// Unregister removes connID and returns its final state.
func (r *Registry) Unregister(connID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, connID)
	return e.snapshot(connID), true
}

// AddRoom records that connID joined roomID and reports whether it is new.
func (r *Registry) AddRoom(connID, roomID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if _, joined := e.rooms[roomID]; joined {
		return false, nil
	}
	e.rooms[roomID] = struct{}{}
	return true, nil
}

// RemoveRoom reports whether connID had joined roomID.
func (r *Registry) RemoveRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, joined := e.rooms[roomID]; !joined {
		return false
	}
	delete(e.rooms, roomID)
	return true
}

// Joined reports whether connID has joined roomID.
func (r *Registry) Joined(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, joined := e.rooms[roomID]
	return joined
}

// ConnectionsOf returns the ids of userID's connections, sorted.
func (r *Registry) ConnectionsOf(userID string) []string {
	return r.filter(func(e *entry) bool {
		return e.identity != nil && e.identity.UserID == userID
	})
}

// ConnectionsIn returns the ids of connections joined to roomID, sorted.
func (r *Registry) ConnectionsIn(roomID string) []string {
	return r.filter(func(e *entry) bool {
		_, joined := e.rooms[roomID]
		return joined
	})
}

func (r *Registry) filter(match func(*entry) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.conns {
		if match(e) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (e *entry) snapshot(connID string) Connection {
	rooms := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return Connection{ID: connID, Identity: e.identity, Rooms: rooms}
}

// isUnknown reports whether err only says the connection already went away.
func isUnknown(err error) bool {
	return errors.Is(err, ErrUnknownConnection)
}
