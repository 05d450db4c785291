// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/chat-federation/pkg/federation"
)

var selectUsers = `SELECT u.id, u.external_id, u.username, u.display_name, u.avatar_url, u.is_local FROM users u`

type userRow struct {
	ID          string `db:"id"`
	ExternalID  string `db:"external_id"`
	Username    string `db:"username"`
	DisplayName string `db:"display_name"`
	AvatarURL   string `db:"avatar_url"`
	IsLocal     bool   `db:"is_local"`
}

func (r *userRow) toUser() *federation.FederatedUser {
	return &federation.FederatedUser{
		ID:          r.ID,
		ExternalID:  id.UserID(r.ExternalID),
		Username:    r.Username,
		DisplayName: r.DisplayName,
		AvatarURL:   r.AvatarURL,
		IsLocal:     r.IsLocal,
	}
}

type sqliteUserStore struct {
	db *sqlx.DB
}

// NewUsers creates the user repository over an open database.
func NewUsers(db *sqlx.DB) federation.UserRepository {
	return &sqliteUserStore{db: db}
}

func (s *sqliteUserStore) GetUserByExternalID(ctx context.Context, externalID id.UserID) (*federation.FederatedUser, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, selectUsers+" WHERE u.external_id = $1;", string(externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toUser(), nil
}

func (s *sqliteUserStore) GetUserByInternalID(ctx context.Context, internalID string) (*federation.FederatedUser, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, selectUsers+" WHERE u.id = $1;", internalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toUser(), nil
}

// CreateUser inserts the user, relying on the external_id unique constraint
// for find-or-create semantics: when a concurrent insert wins the race, the
// existing record is read back and returned.
func (s *sqliteUserStore) CreateUser(ctx context.Context, user *federation.FederatedUser) (*federation.FederatedUser, error) {
	stmt := `
	INSERT INTO users (id, external_id, username, display_name, avatar_url, is_local)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (external_id) DO NOTHING;
	`
	newID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, stmt,
		newID, string(user.ExternalID), user.Username, user.DisplayName, user.AvatarURL, user.IsLocal)
	if err != nil {
		return nil, err
	}
	created, err := s.GetUserByExternalID(ctx, user.ExternalID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("user %s missing after insert", user.ExternalID)
	}
	return created, nil
}

func (s *sqliteUserStore) SetUserDisplayName(ctx context.Context, internalID, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = $1 WHERE id = $2;`, displayName, internalID)
	return err
}

func (s *sqliteUserStore) SetUserAvatarURL(ctx context.Context, internalID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET avatar_url = $1 WHERE id = $2;`, avatarURL, internalID)
	return err
}
