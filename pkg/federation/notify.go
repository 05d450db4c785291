// Copyright 2024-2026 Aiku AI

package federation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// TypingSink receives typing state changes for local delivery.
type TypingSink interface {
	NotifyTyping(roomID, username string, typing bool)
}

// TypingSinkFunc adapts a function to the TypingSink interface.
type TypingSinkFunc func(roomID, username string, typing bool)

func (f TypingSinkFunc) NotifyTyping(roomID, username string, typing bool) {
	f(roomID, username, typing)
}

// TypingNotifier forwards remote typing notifications into subscribed local
// rooms. Remote typing events carry the full set of currently typing users,
// so the notifier diffs against the previous set to emit start and stop
// transitions.
type TypingNotifier struct {
	rooms RoomRepository
	users UserRepository
	sink  TypingSink
	log   zerolog.Logger

	mu         sync.Mutex
	subscribed map[string]struct{}
	// typing maps internal room id to the set of usernames currently typing.
	typing map[string]map[string]struct{}
}

// NewTypingNotifier creates the notifier.
func NewTypingNotifier(rooms RoomRepository, users UserRepository, sink TypingSink, log zerolog.Logger) *TypingNotifier {
	return &TypingNotifier{
		rooms:      rooms,
		users:      users,
		sink:       sink,
		log:        log.With().Str("component", "typing_notifier").Logger(),
		subscribed: make(map[string]struct{}),
		typing:     make(map[string]map[string]struct{}),
	}
}

// SubscribeToTyping registers a local room for typing forwarding. Rooms that
// were never subscribed drop their typing events silently.
func (n *TypingNotifier) SubscribeToTyping(roomID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribed[roomID] = struct{}{}
}

// HandleExternalTyping applies a remote typing snapshot to a room. The
// snapshot lists every external user currently typing; users present in the
// previous snapshot but absent now get a stop notification.
func (n *TypingNotifier) HandleExternalTyping(ctx context.Context, externalRoomID id.RoomID, typingUsers []id.UserID) {
	room, err := n.rooms.GetRoomByExternalID(ctx, externalRoomID)
	if err != nil || room == nil {
		return
	}

	n.mu.Lock()
	if _, ok := n.subscribed[room.ID]; !ok {
		n.mu.Unlock()
		return
	}
	previous := n.typing[room.ID]
	current := make(map[string]struct{}, len(typingUsers))
	n.mu.Unlock()

	var started, stopped []string
	for _, externalID := range typingUsers {
		user, err := n.users.GetUserByExternalID(ctx, externalID)
		if err != nil || user == nil {
			continue
		}
		current[user.Username] = struct{}{}
		if _, wasTyping := previous[user.Username]; !wasTyping {
			started = append(started, user.Username)
		}
	}
	for username := range previous {
		if _, stillTyping := current[username]; !stillTyping {
			stopped = append(stopped, username)
		}
	}

	n.mu.Lock()
	n.typing[room.ID] = current
	n.mu.Unlock()

	for _, username := range started {
		n.sink.NotifyTyping(room.ID, username, true)
	}
	for _, username := range stopped {
		n.sink.NotifyTyping(room.ID, username, false)
	}
}
