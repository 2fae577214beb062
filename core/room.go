package core

import (
	"context"
	"time"
)

type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
)

type (
	// Identity is the authenticated principal behind a connection or request.
	Identity struct {
		UserID string `json:"userId"`
		Login  string `json:"login,omitempty"`
		Name   string `json:"name,omitempty"`
	}

	// Room is a named collaboration scope. Its persisted form belongs to the RoomStore.
	Room struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		OwnerID   string    `json:"ownerId"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// Membership grants UserID a role in RoomID.
	Membership struct {
		ID        string    `json:"id"`
		RoomID    string    `json:"roomId"`
		UserID    string    `json:"userId"`
		Role      Role      `json:"role"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// RoomStore is the persistent participant store. Lookups of absent rows
	// return an error wrapping ErrNotFound.
	RoomStore interface {
		// CreateRoom persists the room and its owner membership atomically.
		CreateRoom(ctx context.Context, room *Room, owner *Membership) error
		FindRoom(ctx context.Context, roomID string) (*Room, error)
		// DeleteRoom removes the room together with all of its memberships.
		DeleteRoom(ctx context.Context, roomID string) error

		CreateMembership(ctx context.Context, membership *Membership) error
		FindMembership(ctx context.Context, userID, roomID string) (*Membership, error)
		DeleteMembership(ctx context.Context, userID, roomID string) error
		ListMemberships(ctx context.Context, userID string) ([]*Membership, error)
		ListParticipants(ctx context.Context, roomID string) ([]*Membership, error)

		Close() error
	}

	// IdentityVerifier turns an opaque client token into an Identity.
	IdentityVerifier interface {
		Verify(ctx context.Context, token string) (*Identity, error)
	}
)
