// Copyright 2024-2026 Aiku AI

package federation

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) NotifyTyping(roomID, username string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := "stop"
	if typing {
		state = "start"
	}
	s.calls = append(s.calls, username+":"+state)
}

func newTypingFixture(t *testing.T) (*TypingNotifier, *recordingSink, *fakeRooms, *fakeUsers) {
	t.Helper()
	rooms := newFakeRooms()
	users := newFakeUsers()
	sink := &recordingSink{}
	return NewTypingNotifier(rooms, users, sink, zerolog.Nop()), sink, rooms, users
}

func TestTypingForwardedOnlyForSubscribedRooms(t *testing.T) {
	t.Parallel()
	n, sink, rooms, users := newTypingFixture(t)
	ctx := context.Background()

	room, _ := rooms.CreateRoom(ctx, &FederatedRoom{ExternalID: "!r:remote.example", Type: RoomTypeChannel})
	users.CreateUser(ctx, &FederatedUser{ExternalID: "@bob:remote.example", Username: "bob:remote.example"})

	n.HandleExternalTyping(ctx, "!r:remote.example", []id.UserID{"@bob:remote.example"})
	if len(sink.calls) != 0 {
		t.Fatal("unsubscribed room must not forward typing")
	}

	n.SubscribeToTyping(room.ID)
	n.HandleExternalTyping(ctx, "!r:remote.example", []id.UserID{"@bob:remote.example"})
	if len(sink.calls) != 1 || sink.calls[0] != "bob:remote.example:start" {
		t.Errorf("calls: got %v", sink.calls)
	}
}

func TestTypingDiffEmitsStops(t *testing.T) {
	t.Parallel()
	n, sink, rooms, users := newTypingFixture(t)
	ctx := context.Background()

	room, _ := rooms.CreateRoom(ctx, &FederatedRoom{ExternalID: "!r:remote.example", Type: RoomTypeChannel})
	users.CreateUser(ctx, &FederatedUser{ExternalID: "@bob:remote.example", Username: "bob:remote.example"})
	n.SubscribeToTyping(room.ID)

	n.HandleExternalTyping(ctx, "!r:remote.example", []id.UserID{"@bob:remote.example"})
	n.HandleExternalTyping(ctx, "!r:remote.example", nil)

	want := []string{"bob:remote.example:start", "bob:remote.example:stop"}
	if len(sink.calls) != len(want) {
		t.Fatalf("calls: got %v, want %v", sink.calls, want)
	}
	for i := range want {
		if sink.calls[i] != want[i] {
			t.Errorf("call %d: got %q, want %q", i, sink.calls[i], want[i])
		}
	}
}

func TestTypingSnapshotRepeatIsQuiet(t *testing.T) {
	t.Parallel()
	n, sink, rooms, users := newTypingFixture(t)
	ctx := context.Background()

	room, _ := rooms.CreateRoom(ctx, &FederatedRoom{ExternalID: "!r:remote.example", Type: RoomTypeChannel})
	users.CreateUser(ctx, &FederatedUser{ExternalID: "@bob:remote.example", Username: "bob:remote.example"})
	n.SubscribeToTyping(room.ID)

	n.HandleExternalTyping(ctx, "!r:remote.example", []id.UserID{"@bob:remote.example"})
	n.HandleExternalTyping(ctx, "!r:remote.example", []id.UserID{"@bob:remote.example"})
	if len(sink.calls) != 1 {
		t.Errorf("repeated snapshot must not re-emit, got %v", sink.calls)
	}
}
