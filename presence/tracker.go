// Package presence tracks which identities currently hold a joined
// connection to a room. Presence is per process and never persisted.
package presence

import (
	"sort"
	"sync"
)

// Tracker maps room -> identity -> set of joined connection ids.
// An identity is present in a room while at least one of its connections
// is joined; a room entry is dropped as soon as it has nobody left.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[string]map[string]map[string]struct{})}
}

// TrackJoin records connID of userID in roomID. It reports whether userID
// became present, which is false for a second connection of the same user
// and for a repeated join from the same connection.
func (t *Tracker) TrackJoin(roomID, userID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.rooms[roomID]
	if !ok {
		users = make(map[string]map[string]struct{})
		t.rooms[roomID] = users
	}
	conns, ok := users[userID]
	if !ok {
		conns = make(map[string]struct{})
		users[userID] = conns
	}
	conns[connID] = struct{}{}
	return !ok
}

// TrackLeave drops connID of userID from roomID. It reports whether userID
// stopped being present, i.e. that was its last connection in the room.
func (t *Tracker) TrackLeave(roomID, userID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	conns, ok := users[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}

	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}

// Active returns the identities present in roomID, sorted.
func (t *Tracker) Active(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := t.rooms[roomID]
	active := make([]string, 0, len(users))
	for userID := range users {
		active = append(active, userID)
	}
	sort.Strings(active)
	return active
}

// IsActive reports whether roomID has anyone present.
func (t *Tracker) IsActive(roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[roomID]) > 0
}

// Rooms returns the number of present identities per room.
func (t *Tracker) Rooms() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[string]int, len(t.rooms))
	for roomID, users := range t.rooms {
		counts[roomID] = len(users)
	}
	return counts
}

// Evict forgets roomID entirely and returns who was present.
func (t *Tracker) Evict(roomID string) []string {
	t.mu.Lock()
	users := t.rooms[roomID]
	delete(t.rooms, roomID)
	t.mu.Unlock()

	evicted := make([]string, 0, len(users))
	for userID := range users {
		evicted = append(evicted, userID)
	}
	sort.Strings(evicted)
	return evicted
}
