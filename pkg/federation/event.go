// Copyright 2024-2026 Aiku AI

package federation

import (
	"maunium.net/go/mautrix/id"
)

// EventKind identifies an inbound federation event type.
type EventKind string

const (
	EventKindCreateRoom  EventKind = "create_room"
	EventKindMembership  EventKind = "membership"
	EventKindMessage     EventKind = "message"
	EventKindEdit        EventKind = "edit"
	EventKindFileMessage EventKind = "file_message"
	EventKindJoinRule    EventKind = "join_rule"
	EventKindNameChange  EventKind = "name_change"
	EventKindTopicChange EventKind = "topic_change"
	EventKindRedact      EventKind = "redact"
	EventKindReaction    EventKind = "reaction"
	EventKindPowerLevels EventKind = "power_levels"
)

// Origin marks where an event was generated relative to this server.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event is a single inbound unit of work. Events are transient: received,
// dispatched, discarded. Idempotence comes from external-id lookups against
// already materialized local entities, not from an event log.
type Event interface {
	Kind() EventKind
	RoomID() id.RoomID
}

// UserProfile carries remote profile data attached to membership events.
type UserProfile struct {
	DisplayName string
	AvatarURL   string
}

// FileInfo describes an attachment referenced by a file message.
type FileInfo struct {
	Name     string
	Size     int64
	MimeType string
	// URL is the protocol-level content URL the file can be fetched from.
	URL string
}

// CreateRoomEvent signals that an external room was created. Only rooms that
// were programmatically created on this side (DM provisioning) get their
// external id recorded; everything else is noise.
type CreateRoomEvent struct {
	ExternalRoomID  id.RoomID
	ExternalEventID id.EventID
	// WasInternallyCreated is set when the room creation was initiated by
	// this server and the creation event is an echo carrying the external id
	// we still need to record.
	WasInternallyCreated bool
	InternalRoomID       string
}

func (e *CreateRoomEvent) Kind() EventKind { return EventKindCreateRoom }
func (e *CreateRoomEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// MembershipEvent is a join/invite/leave/kick state change.
type MembershipEvent struct {
	ExternalRoomID    id.RoomID
	ExternalEventID   id.EventID
	ExternalInviterID id.UserID
	ExternalInviteeID id.UserID
	Origin            Origin
	// RoomType is only present on events that may create the room.
	RoomType RoomType
	Leave    bool
	// ExternalRoomName is carried by creation-adjacent events so a newly
	// materialized room gets its name in the same pass.
	ExternalRoomName string
	Profile          *UserProfile
	// AllDMInvitees is set when a DM creation event provided the full member
	// list at once (bulk case). Identities are home-server qualified.
	AllDMInvitees []id.UserID
}

func (e *MembershipEvent) Kind() EventKind { return EventKindMembership }
func (e *MembershipEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// MessageEvent is an inbound text message.
type MessageEvent struct {
	ExternalRoomID   id.RoomID
	ExternalSenderID id.UserID
	ExternalEventID  id.EventID
	RawText          string
	// FormattedText is the rich (HTML) rendition, empty for plain messages.
	FormattedText  string
	ReplyToEventID id.EventID
}

func (e *MessageEvent) Kind() EventKind { return EventKindMessage }
func (e *MessageEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// EditEvent replaces the content of a previously delivered message.
type EditEvent struct {
	ExternalRoomID   id.RoomID
	ExternalSenderID id.UserID
	ExternalEventID  id.EventID
	// EditsEventID is the external id of the message being edited.
	EditsEventID     id.EventID
	NewRawText       string
	NewFormattedText string
}

func (e *EditEvent) Kind() EventKind { return EventKindEdit }
func (e *EditEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// FileMessageEvent is an inbound message carrying a file attachment.
type FileMessageEvent struct {
	ExternalRoomID   id.RoomID
	ExternalSenderID id.UserID
	ExternalEventID  id.EventID
	File             FileInfo
	ReplyToEventID   id.EventID
}

func (e *FileMessageEvent) Kind() EventKind { return EventKindFileMessage }
func (e *FileMessageEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// JoinRuleEvent maps an external join-rule change onto a room type change.
type JoinRuleEvent struct {
	ExternalRoomID  id.RoomID
	ExternalEventID id.EventID
	RoomType        RoomType
}

func (e *JoinRuleEvent) Kind() EventKind { return EventKindJoinRule }
func (e *JoinRuleEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// NameChangeEvent carries a new room display name.
type NameChangeEvent struct {
	ExternalRoomID   id.RoomID
	ExternalSenderID id.UserID
	ExternalEventID  id.EventID
	Name             string
}

func (e *NameChangeEvent) Kind() EventKind { return EventKindNameChange }
func (e *NameChangeEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// TopicChangeEvent carries a new room topic.
type TopicChangeEvent struct {
	ExternalRoomID   id.RoomID
	ExternalSenderID id.UserID
	ExternalEventID  id.EventID
	Topic            string
}

func (e *TopicChangeEvent) Kind() EventKind { return EventKindTopicChange }
func (e *TopicChangeEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// RedactEvent retracts a previously delivered event: either a message
// (deleted) or a reaction (removed), resolved by mapping lookup.
type RedactEvent struct {
	ExternalRoomID   id.RoomID
	ExternalSenderID id.UserID
	ExternalEventID  id.EventID
	RedactsEventID   id.EventID
}

func (e *RedactEvent) Kind() EventKind { return EventKindRedact }
func (e *RedactEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// ReactionEvent adds an emoji reaction to a message.
type ReactionEvent struct {
	ExternalRoomID   id.RoomID
	ExternalSenderID id.UserID
	ExternalEventID  id.EventID
	TargetEventID    id.EventID
	Emoji            string
}

func (e *ReactionEvent) Kind() EventKind { return EventKindReaction }
func (e *ReactionEvent) RoomID() id.RoomID { return e.ExternalRoomID }

// RoleAction is one half of a power-level diff.
type RoleAction string

const (
	RoleActionAdd    RoleAction = "add"
	RoleActionRemove RoleAction = "remove"
)

// RoleChange is a single role grant or revocation for one user.
type RoleChange struct {
	Action RoleAction
	Role   Role
}

// PowerLevelsEvent carries role changes derived from an external
// power-level state diff.
type PowerLevelsEvent struct {
	ExternalRoomID   id.RoomID
	ExternalSenderID id.UserID
	ExternalEventID  id.EventID
	RoleChanges      map[id.UserID][]RoleChange
}

func (e *PowerLevelsEvent) Kind() EventKind { return EventKindPowerLevels }
func (e *PowerLevelsEvent) RoomID() id.RoomID { return e.ExternalRoomID }
