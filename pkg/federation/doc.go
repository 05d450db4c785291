// Copyright 2024-2026 Aiku AI

// Package federation implements the room membership and message relay engine
// that bridges a local chat server with remote Matrix homeservers.
//
// The engine is event driven: the network layer translates homeserver
// traffic into typed events and feeds them through [Queue] into [Receiver],
// which mutates local state through the repository interfaces and drives
// outbound actions through [Gateway].
//
// # Core Types
//
// [Receiver] is the event state machine. Its handlers are idempotent under
// duplicate delivery and fail open: events referencing unknown rooms or
// unresolvable actors are dropped with a debug log rather than erroring.
//
// [Resolver] maps external ids to local users, creating shadow users for
// remote actors on first contact. Origin is decided by matching the domain
// suffix of an external id against the configured home domain; this is a
// trust boundary, not authentication.
//
// [Gateway] abstracts every outbound homeserver interaction so the engine
// can be exercised against a recording fake in tests.
//
// # Direct Message Rooms
//
// A DM room's member set is immutable. Growing it is expressed as
// [ReplaceRoomWithExpandedMembership]: the old room is removed and a new one
// created with the union member set under the same external id.
//
// # Sub-packages
//
//   - matrixfmt converts Matrix HTML to the internal markdown form.
//   - homefmt converts internal markdown to Matrix HTML.
package federation
