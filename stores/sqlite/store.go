package sqlite

import (
	"context"
	"database/sql"
	"devsync-server/core"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS memberships (
	id TEXT NOT NULL,
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
CREATE INDEX IF NOT EXISTS memberships_user_id ON memberships (user_id);
`

// NewStore opens (and migrates) the SQLite database at dataSourceName.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps PRAGMA foreign_keys in effect and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &sqliteStore{db}, nil
}

func (s *sqliteStore) CreateRoom(ctx context.Context, room *core.Room, owner *core.Membership) error {
	log := logrus.WithField("room_id", room.ID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Rollback on any error

	_, err = tx.ExecContext(ctx,
		"INSERT INTO rooms (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)",
		room.ID, room.Name, room.OwnerID, room.CreatedAt.UnixMilli())
	if isDuplicate(err) {
		return fmt.Errorf("room with id %s: %w", room.ID, core.ErrConflict)
	}
	if err != nil {
		log.WithError(err).Error("Failed to create room")
		return err
	}

	if owner != nil {
		if err := insertMembership(ctx, tx, owner); err != nil {
			log.WithError(err).Error("Failed to create owner membership")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debug("Room created")
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMembership(ctx context.Context, db execer, m *core.Membership) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO memberships (id, room_id, user_id, role, created_at) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.RoomID, m.UserID, string(m.Role), m.CreatedAt.UnixMilli())
	if isDuplicate(err) {
		return fmt.Errorf("user %s in room %s: %w", m.UserID, m.RoomID, core.ErrConflict)
	}
	return err
}

func isDuplicate(err error) bool {
	var sqliteErr *driver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func (s *sqliteStore) FindRoom(ctx context.Context, roomID string) (*core.Room, error) {
	var room core.Room
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, created_at FROM rooms WHERE id = ?", roomID).
		Scan(&room.ID, &room.Name, &room.OwnerID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to retrieve room")
		return nil, err
	}
	room.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &room, nil
}

func (s *sqliteStore) DeleteRoom(ctx context.Context, roomID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to delete room")
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("room with id %s: %w", roomID, core.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) CreateMembership(ctx context.Context, m *core.Membership) error {
	if err := insertMembership(ctx, s.db, m); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"room_id": m.RoomID,
			"user_id": m.UserID,
		}).WithError(err).Error("Failed to create membership")
		return err
	}
	return nil
}

const membershipColumns = "id, room_id, user_id, role, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(row scanner) (*core.Membership, error) {
	var m core.Membership
	var role string
	var createdAt int64
	if err := row.Scan(&m.ID, &m.RoomID, &m.UserID, &role, &createdAt); err != nil {
		return nil, err
	}
	m.Role = core.Role(role)
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &m, nil
}

func (s *sqliteStore) FindMembership(ctx context.Context, userID, roomID string) (*core.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE user_id = ? AND room_id = ?", userID, roomID)
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("membership of %s in room %s: %w", userID, roomID, core.ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

func (s *sqliteStore) DeleteMembership(ctx context.Context, userID, roomID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM memberships WHERE user_id = ? AND room_id = ?", userID, roomID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("membership of %s in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) listMemberships(ctx context.Context, where string, arg string) ([]*core.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE "+where+" = ? ORDER BY created_at ASC, id ASC", arg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close membership rows")
		}
	}()

	out := []*core.Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListMemberships(ctx context.Context, userID string) ([]*core.Membership, error) {
	return s.listMemberships(ctx, "user_id", userID)
}

func (s *sqliteStore) ListParticipants(ctx context.Context, roomID string) ([]*core.Membership, error) {
	if _, err := s.FindRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.listMemberships(ctx, "room_id", roomID)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
