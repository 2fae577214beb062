// Package membership is the authoritative answer to "who may act in room R".
// It never caches: every call reads the RoomStore so a concurrent leave or
// delete is observed by the next gated event.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"devsync-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Listener is told about membership changes that must evict realtime state.
type Listener interface {
	RoomDeleted(roomID string)
	MemberLeft(roomID, userID string)
}

type (
	// RoomDetails is a room together with its participants.
	RoomDetails struct {
		core.Room
		Participants []*core.Membership `json:"participants"`
	}

	// MyRoom is one entry of the caller's room list.
	MyRoom struct {
		Membership *core.Membership `json:"membership"`
		Room       *core.Room       `json:"room"`
	}
)

type Service struct {
	store     core.RoomStore
	listeners []Listener
	now       func() time.Time
}

func NewService(store core.RoomStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Subscribe registers l for room lifecycle notifications.
func (s *Service) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Service) room(ctx context.Context, roomID string) (*core.Room, error) {
	if roomID == "" {
		return nil, core.ErrRoomNotFound
	}
	room, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.ErrRoomNotFound
		}
		return nil, serviceError("find room", err)
	}
	return room, nil
}

func (s *Service) membership(ctx context.Context, userID, roomID string) (*core.Membership, error) {
	m, err := s.store.FindMembership(ctx, userID, roomID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, serviceError("find membership", err)
	}
	return m, nil
}

func serviceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, core.ErrService, err)
}

func requireIdentity(identity *core.Identity) error {
	if identity == nil || identity.UserID == "" {
		return core.ErrUnauthorized
	}
	return nil
}

// IsMember reports whether identity holds a membership in roomID.
func (s *Service) IsMember(ctx context.Context, identity *core.Identity, roomID string) (bool, error) {
	if err := requireIdentity(identity); err != nil {
		return false, err
	}
	if _, err := s.room(ctx, roomID); err != nil {
		return false, err
	}
	m, err := s.membership(ctx, identity.UserID, roomID)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

// RequireMember is IsMember folded into a single error.
func (s *Service) RequireMember(ctx context.Context, identity *core.Identity, roomID string) error {
	ok, err := s.IsMember(ctx, identity, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNotAMember
	}
	return nil
}

// CreateRoom creates a room owned by identity.
func (s *Service) CreateRoom(ctx context.Context, identity *core.Identity, name string) (*core.Room, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", core.ErrInvalidPayload)
	}

	now := s.now().UTC()
	room := &core.Room{
		ID:        ulid.Make().String(),
		Name:      name,
		OwnerID:   identity.UserID,
		CreatedAt: now,
	}
	owner := &core.Membership{
		ID:        ulid.Make().String(),
		RoomID:    room.ID,
		UserID:    identity.UserID,
		Role:      core.RoleOwner,
		CreatedAt: now,
	}
	if err := s.store.CreateRoom(ctx, room, owner); err != nil {
		return nil, serviceError("create room", err)
	}

	logrus.WithFields(logrus.Fields{
		"room_id": room.ID,
		"user_id": identity.UserID,
	}).Info("Room created")
	return room, nil
}

// Join is idempotent: an existing membership is returned unchanged.
func (s *Service) Join(ctx context.Context, identity *core.Identity, roomID string) (*core.Membership, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	if _, err := s.room(ctx, roomID); err != nil {
		return nil, err
	}

	existing, err := s.membership(ctx, identity.UserID, roomID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	m := &core.Membership{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		UserID:    identity.UserID,
		Role:      core.RoleParticipant,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateMembership(ctx, m); err != nil {
		if !errors.Is(err, core.ErrConflict) {
			return nil, serviceError("create membership", err)
		}
		// A concurrent join of the same identity won the insert.
		existing, err := s.membership(ctx, identity.UserID, roomID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, serviceError("create membership", fmt.Errorf("membership of %s in room %s vanished", identity.UserID, roomID))
		}
		return existing, nil
	}

	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": identity.UserID,
	}).Info("Participant joined room")
	return m, nil
}

// Leave drops identity's membership. Owners cannot leave their own room.
func (s *Service) Leave(ctx context.Context, identity *core.Identity, roomID string) error {
	if err := requireIdentity(identity); err != nil {
		return err
	}
	room, err := s.room(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID == identity.UserID {
		return core.ErrOwnerCannotLeave
	}

	existing, err := s.membership(ctx, identity.UserID, roomID)
	if err != nil {
		return err
	}
	if existing == nil {
		return core.ErrNotAMember
	}

	if err := s.store.DeleteMembership(ctx, identity.UserID, roomID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrNotAMember
		}
		return serviceError("delete membership", err)
	}

	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": identity.UserID,
	}).Info("Participant left room")
	for _, l := range s.listeners {
		l.MemberLeft(roomID, identity.UserID)
	}
	return nil
}

// DeleteRoom removes the room and every membership. Only the owner may.
func (s *Service) DeleteRoom(ctx context.Context, identity *core.Identity, roomID string) error {
	if err := requireIdentity(identity); err != nil {
		return err
	}
	room, err := s.room(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != identity.UserID {
		return core.ErrForbidden
	}

	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrRoomNotFound
		}
		return serviceError("delete room", err)
	}

	logrus.WithField("room_id", roomID).Info("Room deleted")
	for _, l := range s.listeners {
		l.RoomDeleted(roomID)
	}
	return nil
}

// GetRoom returns the room with its participants to members only.
func (s *Service) GetRoom(ctx context.Context, identity *core.Identity, roomID string) (*RoomDetails, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	room, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m, err := s.membership(ctx, identity.UserID, roomID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, core.ErrForbidden
	}

	participants, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, serviceError("list participants", err)
	}
	return &RoomDetails{Room: *room, Participants: participants}, nil
}

// ListRooms returns every room identity belongs to.
func (s *Service) ListRooms(ctx context.Context, identity *core.Identity) ([]MyRoom, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	memberships, err := s.store.ListMemberships(ctx, identity.UserID)
	if err != nil {
		return nil, serviceError("list memberships", err)
	}

	rooms := make([]MyRoom, 0, len(memberships))
	for _, m := range memberships {
		room, err := s.store.FindRoom(ctx, m.RoomID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Deleted between the two reads.
				continue
			}
			return nil, serviceError("find room", err)
		}
		rooms = append(rooms, MyRoom{Membership: m, Room: room})
	}
	return rooms, nil
}
