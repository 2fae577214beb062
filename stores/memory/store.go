package memory

import (
	"context"
	"devsync-server/core"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// memStore implements core.RoomStore for in-memory storage.
type memStore struct {
	mu    sync.RWMutex
	rooms map[string]core.Room
	// memberships is keyed by room id, then user id.
	memberships map[string]map[string]core.Membership
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		rooms:       make(map[string]core.Room),
		memberships: make(map[string]map[string]core.Membership),
	}
}

func (s *memStore) CreateRoom(ctx context.Context, room *core.Room, owner *core.Membership) error {
	if room.ID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[room.ID]; exists {
		return fmt.Errorf("room with id %s: %w", room.ID, core.ErrConflict)
	}
	s.rooms[room.ID] = *room
	s.memberships[room.ID] = map[string]core.Membership{}
	if owner != nil {
		s.memberships[room.ID][owner.UserID] = *owner
	}

	logrus.WithField("room_id", room.ID).Debug("Room created in memory")
	return nil
}

func (s *memStore) FindRoom(ctx context.Context, roomID string) (*core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
	}
	return &room, nil
}

func (s *memStore) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
	}
	delete(s.rooms, roomID)
	delete(s.memberships, roomID)

	logrus.WithField("room_id", roomID).Debug("Room deleted from memory")
	return nil
}

func (s *memStore) CreateMembership(ctx context.Context, m *core.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.memberships[m.RoomID]
	if !ok {
		return fmt.Errorf("room with id %s: %w", m.RoomID, core.ErrNotFound)
	}
	if _, exists := members[m.UserID]; exists {
		return fmt.Errorf("user %s in room %s: %w", m.UserID, m.RoomID, core.ErrConflict)
	}
	members[m.UserID] = *m
	return nil
}

func (s *memStore) FindMembership(ctx context.Context, userID, roomID string) (*core.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[roomID][userID]
	if !ok {
		return nil, fmt.Errorf("membership of %s in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	return &m, nil
}

func (s *memStore) DeleteMembership(ctx context.Context, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memberships[roomID][userID]; !ok {
		return fmt.Errorf("membership of %s in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	delete(s.memberships[roomID], userID)
	return nil
}

func (s *memStore) ListMemberships(ctx context.Context, userID string) ([]*core.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*core.Membership{}
	for _, members := range s.memberships {
		if m, ok := members[userID]; ok {
			m := m
			out = append(out, &m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (s *memStore) ListParticipants(ctx context.Context, roomID string) ([]*core.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.memberships[roomID]
	if !ok {
		return nil, fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
	}
	out := make([]*core.Membership, 0, len(members))
	for _, m := range members {
		m := m
		out = append(out, &m)
	}
	sortMemberships(out)
	return out, nil
}

func (s *memStore) Close() error { return nil }

func sortMemberships(ms []*core.Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}
