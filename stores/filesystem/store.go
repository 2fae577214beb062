package filesystem

import (
	"context"
	"devsync-server/core"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// roomFile is the on-disk record of one room and its memberships.
type roomFile struct {
	Room        core.Room                   `json:"room"`
	Memberships map[string]*core.Membership `json:"memberships"`
}

type fsStore struct {
	basePath string
	// mu serializes read-modify-write cycles on room files.
	mu sync.RWMutex
}

// NewStore creates a new filesystem-based store rooted at basePath.
func NewStore(basePath string) (*fsStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &fsStore{basePath: basePath}, nil
}

func (s *fsStore) roomPath(roomID string) (string, error) {
	if roomID == "" || roomID == "." || roomID == ".." || filepath.Base(roomID) != roomID || strings.ContainsAny(roomID, `/\`) {
		return "", fmt.Errorf("invalid room id %q", roomID)
	}
	return filepath.Join(s.basePath, roomID+".json"), nil
}

func (s *fsStore) read(roomID string) (*roomFile, error) {
	path, err := s.roomPath(roomID)
	if err != nil {
		return nil, fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
		}
		logrus.WithField("path", path).WithError(err).Error("Failed to read room file")
		return nil, err
	}

	var rf roomFile
	if err := json.Unmarshal(data, &rf); err != nil {
		logrus.WithField("path", path).WithError(err).Error("Failed to unmarshal room file")
		return nil, err
	}
	if rf.Memberships == nil {
		rf.Memberships = map[string]*core.Membership{}
	}
	return &rf, nil
}

func (s *fsStore) write(rf *roomFile) error {
	path, err := s.roomPath(rf.Room.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rf)
	if err != nil {
		return err
	}

	// Write-then-rename so readers never see a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logrus.WithField("path", tmp).WithError(err).Error("Failed to write room file")
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fsStore) CreateRoom(ctx context.Context, room *core.Room, owner *core.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(room.ID); err == nil {
		return fmt.Errorf("room with id %s: %w", room.ID, core.ErrConflict)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	rf := &roomFile{Room: *room, Memberships: map[string]*core.Membership{}}
	if owner != nil {
		rf.Memberships[owner.UserID] = owner
	}
	if err := s.write(rf); err != nil {
		return err
	}
	logrus.WithField("room_id", room.ID).Info("Room file created")
	return nil
}

func (s *fsStore) FindRoom(ctx context.Context, roomID string) (*core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rf, err := s.read(roomID)
	if err != nil {
		return nil, err
	}
	return &rf.Room, nil
}

func (s *fsStore) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.roomPath(roomID)
	if err != nil {
		return fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
		}
		logrus.WithField("path", path).WithError(err).Error("Failed to delete room file")
		return err
	}
	return nil
}

func (s *fsStore) CreateMembership(ctx context.Context, m *core.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rf, err := s.read(m.RoomID)
	if err != nil {
		return err
	}
	if _, exists := rf.Memberships[m.UserID]; exists {
		return fmt.Errorf("user %s in room %s: %w", m.UserID, m.RoomID, core.ErrConflict)
	}
	rf.Memberships[m.UserID] = m
	return s.write(rf)
}

func (s *fsStore) FindMembership(ctx context.Context, userID, roomID string) (*core.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rf, err := s.read(roomID)
	if err != nil {
		return nil, err
	}
	m, ok := rf.Memberships[userID]
	if !ok {
		return nil, fmt.Errorf("membership of %s in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	return m, nil
}

func (s *fsStore) DeleteMembership(ctx context.Context, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rf, err := s.read(roomID)
	if err != nil {
		return err
	}
	if _, ok := rf.Memberships[userID]; !ok {
		return fmt.Errorf("membership of %s in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	delete(rf.Memberships, userID)
	return s.write(rf)
}

func (s *fsStore) ListMemberships(ctx context.Context, userID string) ([]*core.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	out := []*core.Membership{}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		rf, err := s.read(strings.TrimSuffix(file.Name(), ".json"))
		if err != nil {
			logrus.WithError(err).Warnf("Failed to read room file %s, skipping", file.Name())
			continue
		}
		if m, ok := rf.Memberships[userID]; ok {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (s *fsStore) ListParticipants(ctx context.Context, roomID string) ([]*core.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rf, err := s.read(roomID)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Membership, 0, len(rf.Memberships))
	for _, m := range rf.Memberships {
		out = append(out, m)
	}
	sortMemberships(out)
	return out, nil
}

func (s *fsStore) Close() error { return nil }

func sortMemberships(ms []*core.Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}
