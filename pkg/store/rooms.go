// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/chat-federation/pkg/federation"
)

var selectRooms = `SELECT r.id, r.external_id, r.room_type, r.creator_id, r.name, r.display_name, r.topic FROM rooms r`

type roomRow struct {
	ID          string `db:"id"`
	ExternalID  string `db:"external_id"`
	RoomType    string `db:"room_type"`
	CreatorID   string `db:"creator_id"`
	Name        string `db:"name"`
	DisplayName string `db:"display_name"`
	Topic       string `db:"topic"`
}

type sqliteRoomStore struct {
	db *sqlx.DB
}

// NewRooms creates the room repository over an open database.
func NewRooms(db *sqlx.DB) federation.RoomRepository {
	return &sqliteRoomStore{db: db}
}

func (s *sqliteRoomStore) hydrate(ctx context.Context, row *roomRow) (*federation.FederatedRoom, error) {
	room := &federation.FederatedRoom{
		ID:          row.ID,
		ExternalID:  id.RoomID(row.ExternalID),
		Type:        federation.RoomType(row.RoomType),
		CreatorID:   row.CreatorID,
		Name:        row.Name,
		DisplayName: row.DisplayName,
		Topic:       row.Topic,
	}
	if room.IsDirectMessage() {
		var members []string
		err := s.db.SelectContext(ctx, &members,
			`SELECT external_user_id FROM dm_members WHERE room_id = $1 ORDER BY external_user_id;`, row.ID)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		for _, m := range members {
			room.DMMembers = append(room.DMMembers, id.UserID(m))
		}
	}
	return room, nil
}

func (s *sqliteRoomStore) GetRoomByExternalID(ctx context.Context, externalID id.RoomID) (*federation.FederatedRoom, error) {
	var row roomRow
	err := s.db.GetContext(ctx, &row, selectRooms+" WHERE r.external_id = $1;", string(externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, &row)
}

func (s *sqliteRoomStore) GetRoomByInternalID(ctx context.Context, internalID string) (*federation.FederatedRoom, error) {
	var row roomRow
	err := s.db.GetContext(ctx, &row, selectRooms+" WHERE r.id = $1;", internalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, &row)
}

// CreateRoom inserts the room and, for DMs, its member set. The external_id
// unique constraint gives find-or-create semantics under concurrent
// duplicate delivery.
func (s *sqliteRoomStore) CreateRoom(ctx context.Context, room *federation.FederatedRoom) (*federation.FederatedRoom, error) {
	stmt := `
	INSERT INTO rooms (id, external_id, room_type, creator_id, name, display_name, topic)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (external_id) DO NOTHING;
	`
	newID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, stmt,
		newID, string(room.ExternalID), string(room.Type), room.CreatorID,
		room.Name, room.DisplayName, room.Topic)
	if err != nil {
		return nil, err
	}
	created, err := s.GetRoomByExternalID(ctx, room.ExternalID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("room %s missing after insert", room.ExternalID)
	}
	// Only the insert winner writes the DM member set; a loser's set is
	// identical by construction.
	if created.ID == newID {
		for _, member := range room.DMMembers {
			_, err := s.db.ExecContext(ctx,
				`INSERT INTO dm_members (room_id, external_user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING;`,
				created.ID, string(member))
			if err != nil {
				return nil, err
			}
		}
		created.DMMembers = room.DMMembers
	}
	return created, nil
}

func (s *sqliteRoomStore) RemoveRoom(ctx context.Context, internalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1;`, internalID)
	return err
}

func (s *sqliteRoomStore) SetRoomExternalID(ctx context.Context, internalID string, externalID id.RoomID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET external_id = $1 WHERE id = $2;`, string(externalID), internalID)
	return err
}

func (s *sqliteRoomStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM room_members WHERE room_id = $1 AND user_id = $2;`, roomID, userID)
	return count > 0, err
}

func (s *sqliteRoomStore) AddMember(ctx context.Context, roomID, userID, inviterID string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO room_members (room_id, user_id, inviter_id)
	VALUES ($1, $2, $3)
	ON CONFLICT (room_id, user_id) DO NOTHING;
	`, roomID, userID, inviterID)
	return err
}

func (s *sqliteRoomStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND user_id = $2;`, roomID, userID)
	return err
}

func (s *sqliteRoomStore) UpdateRoomType(ctx context.Context, roomID string, roomType federation.RoomType) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET room_type = $1 WHERE id = $2;`, string(roomType), roomID)
	return err
}

func (s *sqliteRoomStore) UpdateRoomName(ctx context.Context, roomID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET name = $1 WHERE id = $2;`, name, roomID)
	return err
}

func (s *sqliteRoomStore) UpdateRoomDisplayName(ctx context.Context, roomID, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET display_name = $1 WHERE id = $2;`, displayName, roomID)
	return err
}

func (s *sqliteRoomStore) UpdateRoomTopic(ctx context.Context, roomID, topic string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET topic = $1 WHERE id = $2;`, topic, roomID)
	return err
}

// ApplyRoles rewrites a membership's role set. Roles are stored as a
// comma-separated list; the set is small and only ever read whole.
func (s *sqliteRoomStore) ApplyRoles(ctx context.Context, roomID, userID string, add, remove []federation.Role) error {
	var current string
	err := s.db.GetContext(ctx, &current,
		`SELECT roles FROM room_members WHERE room_id = $1 AND user_id = $2;`, roomID, userID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	roles := make(map[federation.Role]struct{})
	for _, r := range strings.Split(current, ",") {
		if r != "" {
			roles[federation.Role(r)] = struct{}{}
		}
	}
	for _, r := range add {
		roles[r] = struct{}{}
	}
	for _, r := range remove {
		delete(roles, r)
	}

	// Keep a stable order so repeated application writes the same value.
	ordered := []federation.Role{federation.RoleOwner, federation.RoleModerator, federation.RoleMember}
	var parts []string
	for _, r := range ordered {
		if _, ok := roles[r]; ok {
			parts = append(parts, string(r))
		}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE room_members SET roles = $1 WHERE room_id = $2 AND user_id = $3;`,
		strings.Join(parts, ","), roomID, userID)
	return err
}
