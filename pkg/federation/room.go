// Copyright 2024-2026 Aiku AI

package federation

import (
	"maunium.net/go/mautrix/id"
)

// RoomType is the local room classification.
type RoomType string

const (
	RoomTypeChannel       RoomType = "c"
	RoomTypePrivateGroup  RoomType = "p"
	RoomTypeDirectMessage RoomType = "d"
)

// Role is a per-room membership role.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// FederatedRoom wraps a local room together with its external room id.
// The external id to internal id mapping is 1:1.
//
// A direct-message room additionally tracks its immutable member set of
// home-server-qualified identities. Members are never added to an existing
// DM room; the room is replaced with a new one instead (see
// ReplaceRoomWithExpandedMembership).
type FederatedRoom struct {
	ID          string
	ExternalID  id.RoomID
	Type        RoomType
	CreatorID   string
	Name        string
	DisplayName string
	Topic       string
	// DMMembers is the fixed member set of a direct-message room, empty for
	// other room types.
	DMMembers []id.UserID
}

// IsDirectMessage reports whether the room is a DM.
func (r *FederatedRoom) IsDirectMessage() bool {
	return r.Type == RoomTypeDirectMessage
}

// HasDMMember reports whether the external user id is part of this DM's
// member set.
func (r *FederatedRoom) HasDMMember(externalUserID id.UserID) bool {
	for _, member := range r.DMMembers {
		if member == externalUserID {
			return true
		}
	}
	return false
}

// ShouldUpdateDisplayName reports whether a name change would actually
// change the stored display name.
func (r *FederatedRoom) ShouldUpdateDisplayName(name string) bool {
	return name != "" && r.DisplayName != name
}

// ShouldUpdateTopic reports whether a topic change would actually change the
// stored topic.
func (r *FederatedRoom) ShouldUpdateTopic(topic string) bool {
	return r.Topic != topic
}

// ReplaceRoomWithExpandedMembership describes the replacement of a DM room
// whose member set must grow: the old room record is removed and a new one
// is created whose member set is the union of the old set and the new
// member. It exists as an explicit operation so the invariant can be
// asserted directly rather than inferred from an ad hoc delete+create.
type ReplaceRoomWithExpandedMembership struct {
	Replaced   *FederatedRoom
	ExternalID id.RoomID
	Creator    *FederatedUser
	Members    []id.UserID
}

// NewDMReplacement builds the replacement operation for adding one member to
// an existing DM room. The old member set is copied; the new member is
// appended if absent.
func NewDMReplacement(room *FederatedRoom, creator *FederatedUser, newMember id.UserID) *ReplaceRoomWithExpandedMembership {
	members := make([]id.UserID, 0, len(room.DMMembers)+1)
	members = append(members, room.DMMembers...)
	if !room.HasDMMember(newMember) {
		members = append(members, newMember)
	}
	return &ReplaceRoomWithExpandedMembership{
		Replaced:   room,
		ExternalID: room.ExternalID,
		Creator:    creator,
		Members:    members,
	}
}

// NewRoom returns the replacement's new room record. The internal id is
// assigned by the repository on creation.
func (op *ReplaceRoomWithExpandedMembership) NewRoom() *FederatedRoom {
	return &FederatedRoom{
		ExternalID: op.ExternalID,
		Type:       RoomTypeDirectMessage,
		CreatorID:  op.Creator.ID,
		DMMembers:  op.Members,
	}
}
