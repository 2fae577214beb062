// Package storetest exercises a core.RoomStore implementation against the
// behaviour every backend must share.
package storetest

import (
	"context"
	"devsync-server/core"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Run runs the suite. newStore must return an empty store per call.
func Run(t *testing.T, newStore func(t *testing.T) core.RoomStore) {
	t.Run("CreateAndFindRoom", func(t *testing.T) { testCreateAndFindRoom(t, newStore(t)) })
	t.Run("FindRoomNotFound", func(t *testing.T) { testFindRoomNotFound(t, newStore(t)) })
	t.Run("Memberships", func(t *testing.T) { testMemberships(t, newStore(t)) })
	t.Run("DeleteRoomCascades", func(t *testing.T) { testDeleteRoomCascades(t, newStore(t)) })
	t.Run("ListMemberships", func(t *testing.T) { testListMemberships(t, newStore(t)) })
	t.Run("ConcurrentMemberships", func(t *testing.T) { testConcurrentMemberships(t, newStore(t)) })
	t.Run("DuplicatesConflict", func(t *testing.T) { testDuplicatesConflict(t, newStore(t)) })
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRoom(id, owner string) (*core.Room, *core.Membership) {
	room := &core.Room{ID: id, Name: "room " + id, OwnerID: owner, CreatedAt: epoch}
	m := &core.Membership{
		ID:        "m-" + id + "-" + owner,
		RoomID:    id,
		UserID:    owner,
		Role:      core.RoleOwner,
		CreatedAt: epoch,
	}
	return room, m
}

func participant(roomID, userID string, offset time.Duration) *core.Membership {
	return &core.Membership{
		ID:        "m-" + roomID + "-" + userID,
		RoomID:    roomID,
		UserID:    userID,
		Role:      core.RoleParticipant,
		CreatedAt: epoch.Add(offset),
	}
}

func testCreateAndFindRoom(t *testing.T, store core.RoomStore) {
	ctx := context.Background()
	room, owner := newRoom("r1", "alice")

	if err := store.CreateRoom(ctx, room, owner); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	got, err := store.FindRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("FindRoom() failed: %v", err)
	}
	if got.Name != room.Name || got.OwnerID != "alice" {
		t.Errorf("FindRoom() = %+v, want %+v", got, room)
	}
	if !got.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, epoch)
	}

	m, err := store.FindMembership(ctx, "alice", "r1")
	if err != nil {
		t.Fatalf("owner membership missing: %v", err)
	}
	if m.Role != core.RoleOwner {
		t.Errorf("owner role mismatch: got %q", m.Role)
	}
}

func testDuplicatesConflict(t *testing.T, store core.RoomStore) {
	ctx := context.Background()
	room, owner := newRoom("r1", "alice")
	if err := store.CreateRoom(ctx, room, owner); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	again, _ := newRoom("r1", "carol")
	if err := store.CreateRoom(ctx, again, nil); !errors.Is(err, core.ErrConflict) {
		t.Errorf("duplicate CreateRoom() error = %v, want ErrConflict", err)
	}

	if err := store.CreateMembership(ctx, participant("r1", "bob", time.Second)); err != nil {
		t.Fatalf("CreateMembership() failed: %v", err)
	}
	dup := participant("r1", "bob", 2*time.Second)
	dup.ID = "m-r1-bob-2"
	if err := store.CreateMembership(ctx, dup); !errors.Is(err, core.ErrConflict) {
		t.Errorf("duplicate CreateMembership() error = %v, want ErrConflict", err)
	}

	m, err := store.FindMembership(ctx, "bob", "r1")
	if err != nil {
		t.Fatalf("FindMembership() failed: %v", err)
	}
	if m.ID != "m-r1-bob" {
		t.Errorf("membership replaced: got id %s", m.ID)
	}
	got, err := store.FindRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("FindRoom() failed: %v", err)
	}
	if got.OwnerID != "alice" {
		t.Errorf("room replaced: owner %s", got.OwnerID)
	}
}

func testFindRoomNotFound(t *testing.T, store core.RoomStore) {
	ctx := context.Background()

	_, err := store.FindRoom(ctx, "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindRoom() error = %v, want ErrNotFound", err)
	}

	_, err = store.FindMembership(ctx, "alice", "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindMembership() error = %v, want ErrNotFound", err)
	}

	if err := store.DeleteRoom(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteRoom() error = %v, want ErrNotFound", err)
	}
}

func testMemberships(t *testing.T, store core.RoomStore) {
	ctx := context.Background()
	room, owner := newRoom("r1", "alice")
	if err := store.CreateRoom(ctx, room, owner); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	if err := store.CreateMembership(ctx, participant("r1", "bob", time.Second)); err != nil {
		t.Fatalf("CreateMembership() failed: %v", err)
	}

	participants, err := store.ListParticipants(ctx, "r1")
	if err != nil {
		t.Fatalf("ListParticipants() failed: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}
	if participants[0].UserID != "alice" || participants[1].UserID != "bob" {
		t.Errorf("participants out of order: %s, %s", participants[0].UserID, participants[1].UserID)
	}

	if err := store.DeleteMembership(ctx, "bob", "r1"); err != nil {
		t.Fatalf("DeleteMembership() failed: %v", err)
	}
	if _, err := store.FindMembership(ctx, "bob", "r1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("membership should be gone, got err = %v", err)
	}
	if err := store.DeleteMembership(ctx, "bob", "r1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second DeleteMembership() error = %v, want ErrNotFound", err)
	}
}

func testDeleteRoomCascades(t *testing.T, store core.RoomStore) {
	ctx := context.Background()
	room, owner := newRoom("r1", "alice")
	if err := store.CreateRoom(ctx, room, owner); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}
	if err := store.CreateMembership(ctx, participant("r1", "bob", time.Second)); err != nil {
		t.Fatalf("CreateMembership() failed: %v", err)
	}

	if err := store.DeleteRoom(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRoom() failed: %v", err)
	}

	if _, err := store.FindRoom(ctx, "r1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("room should be gone, got err = %v", err)
	}
	for _, user := range []string{"alice", "bob"} {
		if _, err := store.FindMembership(ctx, user, "r1"); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("membership of %s should be gone, got err = %v", user, err)
		}
	}
}

func testListMemberships(t *testing.T, store core.RoomStore) {
	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		room, owner := newRoom(id, "owner-"+id)
		if err := store.CreateRoom(ctx, room, owner); err != nil {
			t.Fatalf("CreateRoom(%s) failed: %v", id, err)
		}
		if id == "r2" {
			continue
		}
		if err := store.CreateMembership(ctx, participant(id, "bob", time.Duration(i+1)*time.Second)); err != nil {
			t.Fatalf("CreateMembership(%s) failed: %v", id, err)
		}
	}

	ms, err := store.ListMemberships(ctx, "bob")
	if err != nil {
		t.Fatalf("ListMemberships() failed: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(ms))
	}
	if ms[0].RoomID != "r1" || ms[1].RoomID != "r3" {
		t.Errorf("memberships out of order: %s, %s", ms[0].RoomID, ms[1].RoomID)
	}

	none, err := store.ListMemberships(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListMemberships() failed for unknown user: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no memberships, got %d", len(none))
	}
}

func testConcurrentMemberships(t *testing.T, store core.RoomStore) {
	ctx := context.Background()
	room, owner := newRoom("r1", "alice")
	if err := store.CreateRoom(ctx, room, owner); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	const users = 10
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.CreateMembership(ctx, participant("r1", fmt.Sprintf("user-%d", i), time.Duration(i)*time.Millisecond)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent CreateMembership() failed: %v", err)
	}

	participants, err := store.ListParticipants(ctx, "r1")
	if err != nil {
		t.Fatalf("ListParticipants() failed: %v", err)
	}
	if len(participants) != users+1 {
		t.Errorf("expected %d participants, got %d", users+1, len(participants))
	}
}
