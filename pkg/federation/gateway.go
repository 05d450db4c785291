// Copyright 2024-2026 Aiku AI

package federation

import (
	"context"

	"maunium.net/go/mautrix/id"
)

// Gateway is the only network-facing surface of this subsystem: the
// abstraction over the federation protocol client. All operations may fail;
// callers swallow failures on non-critical operations (avatar, display name)
// and surface failures on joins and sends.
type Gateway interface {
	// JoinRoom joins the external room as the given external user.
	JoinRoom(ctx context.Context, roomID id.RoomID, userID id.UserID) error
	InviteToRoom(ctx context.Context, roomID id.RoomID, inviterID, inviteeID id.UserID) error
	LeaveRoom(ctx context.Context, roomID id.RoomID, userID id.UserID) error
	KickUser(ctx context.Context, roomID id.RoomID, targetID, ownerID id.UserID) error

	SendMessage(ctx context.Context, roomID id.RoomID, senderID id.UserID, rawText, htmlText string) (id.EventID, error)
	SendReply(ctx context.Context, roomID id.RoomID, senderID id.UserID, replyTo id.EventID, rawText, htmlText string) (id.EventID, error)
	SendFile(ctx context.Context, roomID id.RoomID, senderID id.UserID, info FileInfo, content []byte) (id.EventID, error)
	SendReplyFile(ctx context.Context, roomID id.RoomID, senderID id.UserID, replyTo id.EventID, info FileInfo, content []byte) (id.EventID, error)
	SendReaction(ctx context.Context, roomID id.RoomID, senderID id.UserID, targetID id.EventID, key string) (id.EventID, error)
	UpdateMessage(ctx context.Context, roomID id.RoomID, senderID id.UserID, targetID id.EventID, newRawText, newHTMLText string) error
	RedactEvent(ctx context.Context, roomID id.RoomID, senderID id.UserID, targetID id.EventID) error

	SetRoomName(ctx context.Context, roomID id.RoomID, senderID id.UserID, name string) error
	SetRoomTopic(ctx context.Context, roomID id.RoomID, senderID id.UserID, topic string) error
	SetPowerLevel(ctx context.Context, roomID id.RoomID, ownerID, targetID id.UserID, level int) error

	// RegisterUser provisions a protocol identity for a local username and
	// returns the resulting external id.
	RegisterUser(ctx context.Context, username string) (id.UserID, error)
	SetDisplayName(ctx context.Context, userID id.UserID, displayName string) error
	SetAvatarURL(ctx context.Context, userID id.UserID, avatarURL string) error
	GetProfile(ctx context.Context, userID id.UserID) (*UserProfile, error)

	// GetRoomHistoricalJoinEvents returns past join events of a room so they
	// can be replayed through the queue after the room is first materialized
	// locally. The excluded ids are the users already handled in the current
	// pass.
	GetRoomHistoricalJoinEvents(ctx context.Context, roomID id.RoomID, asUser id.UserID, excluding []id.UserID) ([]*MembershipEvent, error)

	// DownloadFile fetches attachment content from a protocol content URL.
	DownloadFile(ctx context.Context, asUser id.UserID, url string) ([]byte, error)

	NotifyUserTyping(ctx context.Context, roomID id.RoomID, userID id.UserID, typing bool) error

	// ExtractOrigin returns the homeserver domain suffix of an external id.
	ExtractOrigin(externalID string) string
}
