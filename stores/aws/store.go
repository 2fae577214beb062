package aws

import (
	"bytes"
	"context"
	"devsync-server/core"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const roomPrefix = "rooms/"

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// roomObject is the JSON body stored per room.
type roomObject struct {
	Room        core.Room                   `json:"room"`
	Memberships map[string]*core.Membership `json:"memberships"`
}

type s3Store struct {
	s3Client S3API
	bucket   string
	// mu serializes read-modify-write cycles; one process owns the bucket prefix.
	mu sync.Mutex
}

// NewStore creates a new S3-based store using the default AWS config chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName), nil
}

func NewStoreWithClient(client S3API, bucketName string) *s3Store {
	return &s3Store{s3Client: client, bucket: bucketName}
}

func (s *s3Store) roomKey(roomID string) (string, error) {
	// Sanitize roomID to prevent path traversal within the bucket.
	if roomID == "" || roomID == "." || roomID == ".." || path.Base(roomID) != roomID {
		return "", fmt.Errorf("invalid room id %q", roomID)
	}
	return roomPrefix + roomID + ".json", nil
}

func (s *s3Store) get(ctx context.Context, roomID string) (*roomObject, error) {
	key, err := s.roomKey(roomID)
	if err != nil {
		return nil, fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read room data: %w", err)
	}
	var obj roomObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room data: %w", err)
	}
	if obj.Memberships == nil {
		obj.Memberships = map[string]*core.Membership{}
	}
	return &obj, nil
}

func (s *s3Store) put(ctx context.Context, obj *roomObject) error {
	key, err := s.roomKey(obj.Room.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", obj.Room.ID, err)
	}
	return nil
}

func (s *s3Store) CreateRoom(ctx context.Context, room *core.Room, owner *core.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(ctx, room.ID); err == nil {
		return fmt.Errorf("room with id %s: %w", room.ID, core.ErrConflict)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	obj := &roomObject{Room: *room, Memberships: map[string]*core.Membership{}}
	if owner != nil {
		obj.Memberships[owner.UserID] = owner
	}
	if err := s.put(ctx, obj); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"room_id": room.ID, "bucket": s.bucket}).Info("Room object created")
	return nil
}

func (s *s3Store) FindRoom(ctx context.Context, roomID string) (*core.Room, error) {
	obj, err := s.get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &obj.Room, nil
}

func (s *s3Store) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(ctx, roomID); err != nil {
		return err
	}
	key, _ := s.roomKey(roomID)
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

func (s *s3Store) CreateMembership(ctx context.Context, m *core.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.get(ctx, m.RoomID)
	if err != nil {
		return err
	}
	if _, exists := obj.Memberships[m.UserID]; exists {
		return fmt.Errorf("user %s in room %s: %w", m.UserID, m.RoomID, core.ErrConflict)
	}
	obj.Memberships[m.UserID] = m
	return s.put(ctx, obj)
}

func (s *s3Store) FindMembership(ctx context.Context, userID, roomID string) (*core.Membership, error) {
	obj, err := s.get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m, ok := obj.Memberships[userID]
	if !ok {
		return nil, fmt.Errorf("membership of %s in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	return m, nil
}

func (s *s3Store) DeleteMembership(ctx context.Context, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.get(ctx, roomID)
	if err != nil {
		return err
	}
	if _, ok := obj.Memberships[userID]; !ok {
		return fmt.Errorf("membership of %s in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	delete(obj.Memberships, userID)
	return s.put(ctx, obj)
}

func (s *s3Store) ListMemberships(ctx context.Context, userID string) ([]*core.Membership, error) {
	out := []*core.Membership{}
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(roomPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list rooms: %w", err)
		}
		for _, object := range page.Contents {
			roomID := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(object.Key), roomPrefix), ".json")
			obj, err := s.get(ctx, roomID)
			if err != nil {
				logrus.WithError(err).Warnf("Failed to read room object %s, skipping", aws.ToString(object.Key))
				continue
			}
			if m, ok := obj.Memberships[userID]; ok {
				out = append(out, m)
			}
		}
	}
	sortMemberships(out)
	return out, nil
}

func (s *s3Store) ListParticipants(ctx context.Context, roomID string) ([]*core.Membership, error) {
	obj, err := s.get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Membership, 0, len(obj.Memberships))
	for _, m := range obj.Memberships {
		out = append(out, m)
	}
	sortMemberships(out)
	return out, nil
}

func (s *s3Store) Close() error { return nil }

func sortMemberships(ms []*core.Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}
