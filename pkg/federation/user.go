// Copyright 2024-2026 Aiku AI

package federation

import (
	"strings"

	"maunium.net/go/mautrix/id"
)

// FederatedUser maps an external actor identity onto a local user record.
// The external id is globally unique and immutable once assigned; the
// internal id is created at most once per external id.
type FederatedUser struct {
	ID          string
	ExternalID  id.UserID
	Username    string
	DisplayName string
	AvatarURL   string
	// IsLocal records whether the external id's domain suffix matched the
	// configured home domain at creation time. This is a string comparison,
	// not authentication; never treat it as a trust decision.
	IsLocal bool
}

// Origin returns the user's origin relative to this server.
func (u *FederatedUser) Origin() Origin {
	if u.IsLocal {
		return OriginLocal
	}
	return OriginRemote
}

// ExtractOrigin returns the domain suffix of a protocol-qualified id
// (user:domain or !room:domain). Ids with no domain part are assumed to be
// from the given home domain.
func ExtractOrigin(externalID, homeDomain string) string {
	if idx := strings.LastIndex(externalID, ":"); idx >= 0 {
		return externalID[idx+1:]
	}
	return homeDomain
}

// IsLocalOrigin reports whether the external id's domain suffix matches the
// configured home domain.
func IsLocalOrigin(externalID id.UserID, homeDomain string) bool {
	return ExtractOrigin(string(externalID), homeDomain) == homeDomain
}

// NormalizeExternalID strips the protocol sigil from an external id,
// yielding e.g. "bob:remote.example" from "@bob:remote.example" and
// "general:remote.example" from "!general:remote.example".
func NormalizeExternalID(externalID id.UserID) string {
	return strings.TrimLeft(string(externalID), "@!")
}

// LocalpartOf returns just the username portion of an external id.
func LocalpartOf(externalID id.UserID) string {
	normalized := NormalizeExternalID(externalID)
	if idx := strings.Index(normalized, ":"); idx >= 0 {
		return normalized[:idx]
	}
	return normalized
}

// UsernameForExternalID derives the local username for an external id: the
// bare localpart for same-origin users, the full normalized id for foreign
// ones so shadow users stay unambiguous across remote servers.
func UsernameForExternalID(externalID id.UserID, homeDomain string) string {
	if IsLocalOrigin(externalID, homeDomain) {
		return LocalpartOf(externalID)
	}
	return NormalizeExternalID(externalID)
}
