// Copyright 2024-2026 Aiku AI

package federation

// Named membership predicates. The dispatcher composes these explicitly
// instead of inlining origin and identity comparisons in each branch.

// isSelfJoin reports whether the event is a user joining on their own
// behalf (actor and target are the same and it is not a leave).
func isSelfJoin(evt *MembershipEvent) bool {
	return evt.ExternalInviterID == evt.ExternalInviteeID && !evt.Leave
}

// isSelfOriginatedEcho reports whether a membership event is an echo of a
// locally initiated action rather than new remote state: it originated on
// this server and is a self-join.
func isSelfOriginatedEcho(evt *MembershipEvent) bool {
	return evt.Origin == OriginLocal && isSelfJoin(evt)
}

// isLocalEvent reports whether the event was generated on this server.
func isLocalEvent(evt *MembershipEvent) bool {
	return evt.Origin == OriginLocal
}

// wasBulkDMCreation reports whether a DM creation event supplied all
// invitees atomically.
func wasBulkDMCreation(evt *MembershipEvent) bool {
	return len(evt.AllDMInvitees) > 0
}
