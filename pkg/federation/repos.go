// Copyright 2024-2026 Aiku AI

package federation

import (
	"context"
	"errors"
	"io"

	"maunium.net/go/mautrix/id"
)

// ErrFileTooLarge is returned by the file message path when an attachment
// exceeds the configured size limit. Callers must be able to distinguish it
// from generic failures so the network response can reflect it.
var ErrFileTooLarge = errors.New("file too large")

// UserRepository is the collaborator interface over local user storage.
// Lookups return (nil, nil) when no record exists.
//
// Create must be safe under concurrent duplicate delivery: the store layer
// enforces uniqueness on the external id and returns the already existing
// record instead of an error when it loses the race.
type UserRepository interface {
	GetUserByExternalID(ctx context.Context, externalID id.UserID) (*FederatedUser, error)
	GetUserByInternalID(ctx context.Context, internalID string) (*FederatedUser, error)
	CreateUser(ctx context.Context, user *FederatedUser) (*FederatedUser, error)
	SetUserDisplayName(ctx context.Context, internalID, displayName string) error
	SetUserAvatarURL(ctx context.Context, internalID, avatarURL string) error
}

// RoomRepository is the collaborator interface over local room storage.
// The same concurrency contract as UserRepository applies: CreateRoom and
// AddMember rely on storage-level uniqueness, not in-process checks.
type RoomRepository interface {
	GetRoomByExternalID(ctx context.Context, externalID id.RoomID) (*FederatedRoom, error)
	GetRoomByInternalID(ctx context.Context, internalID string) (*FederatedRoom, error)
	CreateRoom(ctx context.Context, room *FederatedRoom) (*FederatedRoom, error)
	// RemoveRoom deletes the room record and its memberships. Used only for
	// the DM replacement strategy.
	RemoveRoom(ctx context.Context, internalID string) error
	// SetRoomExternalID records the external id on an internally created
	// room (the create-room echo path).
	SetRoomExternalID(ctx context.Context, internalID string, externalID id.RoomID) error

	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	// AddMember is a no-op returning nil when the membership already exists.
	AddMember(ctx context.Context, roomID, userID, inviterID string) error
	RemoveMember(ctx context.Context, roomID, userID string) error

	UpdateRoomType(ctx context.Context, roomID string, roomType RoomType) error
	UpdateRoomName(ctx context.Context, roomID, name string) error
	UpdateRoomDisplayName(ctx context.Context, roomID, displayName string) error
	UpdateRoomTopic(ctx context.Context, roomID, topic string) error
	ApplyRoles(ctx context.Context, roomID, userID string, add, remove []Role) error
}

// MessageRepository is the collaborator interface over local message storage.
type MessageRepository interface {
	GetMessageByExternalEventID(ctx context.Context, eventID id.EventID) (*Message, error)
	GetMessageByInternalID(ctx context.Context, internalID string) (*Message, error)
	CreateMessage(ctx context.Context, msg *Message) (*Message, error)
	UpdateMessageText(ctx context.Context, internalID, newText string) error
	DeleteMessage(ctx context.Context, internalID string) error

	AddReaction(ctx context.Context, reaction *Reaction) error
	// FindMessageByReactionEventID locates the message carrying a reaction
	// created by the given external event id for the given username, along
	// with that reaction's emoji. Returns (nil, "", nil) when no match.
	FindMessageByReactionEventID(ctx context.Context, eventID id.EventID, username string) (*Message, string, error)
	RemoveReaction(ctx context.Context, messageID, username, emoji string) error
}

// FileStore is the collaborator interface over the local upload store.
type FileStore interface {
	UploadFile(ctx context.Context, roomID, userID string, info FileInfo, content io.Reader) (*StoredFile, error)
}

// TypingSubscriber subscribes a local room id to the typing-notification
// broadcast so remote typing events reach local clients. Subscriptions must
// be re-established for the new internal id whenever a DM room is replaced.
type TypingSubscriber interface {
	SubscribeToTyping(roomID string)
}
