// Copyright 2024-2026 Aiku AI

package federation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

const (
	testHomeDomain = "local.example"
	testServerURL  = "https://chat.local"
	testMaxFile    = 50 * 1024 * 1024
)

// fakeUsers is an in-memory UserRepository with find-or-create semantics
// matching the store layer's unique-constraint behavior.
type fakeUsers struct {
	mu         sync.Mutex
	byExternal map[id.UserID]*FederatedUser
	byID       map[string]*FederatedUser
	nextID     int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byExternal: make(map[id.UserID]*FederatedUser),
		byID:       make(map[string]*FederatedUser),
	}
}

func (f *fakeUsers) GetUserByExternalID(_ context.Context, externalID id.UserID) (*FederatedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byExternal[externalID], nil
}

func (f *fakeUsers) GetUserByInternalID(_ context.Context, internalID string) (*FederatedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[internalID], nil
}

func (f *fakeUsers) CreateUser(_ context.Context, user *FederatedUser) (*FederatedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byExternal[user.ExternalID]; ok {
		return existing, nil
	}
	f.nextID++
	stored := *user
	stored.ID = fmt.Sprintf("user-%d", f.nextID)
	f.byExternal[stored.ExternalID] = &stored
	f.byID[stored.ID] = &stored
	return &stored, nil
}

func (f *fakeUsers) SetUserDisplayName(_ context.Context, internalID, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[internalID]; ok {
		u.DisplayName = displayName
	}
	return nil
}

func (f *fakeUsers) SetUserAvatarURL(_ context.Context, internalID, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[internalID]; ok {
		u.AvatarURL = avatarURL
	}
	return nil
}

type membership struct {
	inviterID string
	roles     map[Role]struct{}
}

// fakeRooms is an in-memory RoomRepository.
type fakeRooms struct {
	mu         sync.Mutex
	byExternal map[id.RoomID]*FederatedRoom
	byID       map[string]*FederatedRoom
	members    map[string]map[string]*membership
	nextID     int
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		byExternal: make(map[id.RoomID]*FederatedRoom),
		byID:       make(map[string]*FederatedRoom),
		members:    make(map[string]map[string]*membership),
	}
}

func (f *fakeRooms) GetRoomByExternalID(_ context.Context, externalID id.RoomID) (*FederatedRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byExternal[externalID], nil
}

func (f *fakeRooms) GetRoomByInternalID(_ context.Context, internalID string) (*FederatedRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[internalID], nil
}

func (f *fakeRooms) CreateRoom(_ context.Context, room *FederatedRoom) (*FederatedRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byExternal[room.ExternalID]; ok {
		return existing, nil
	}
	f.nextID++
	stored := *room
	stored.ID = fmt.Sprintf("room-%d", f.nextID)
	f.byExternal[stored.ExternalID] = &stored
	f.byID[stored.ID] = &stored
	f.members[stored.ID] = make(map[string]*membership)
	return &stored, nil
}

func (f *fakeRooms) RemoveRoom(_ context.Context, internalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.byID[internalID]; ok {
		delete(f.byExternal, room.ExternalID)
		delete(f.byID, internalID)
		delete(f.members, internalID)
	}
	return nil
}

func (f *fakeRooms) SetRoomExternalID(_ context.Context, internalID string, externalID id.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.byID[internalID]; ok {
		delete(f.byExternal, room.ExternalID)
		room.ExternalID = externalID
		f.byExternal[externalID] = room
	}
	return nil
}

func (f *fakeRooms) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[roomID][userID]
	return ok, nil
}

func (f *fakeRooms) AddMember(_ context.Context, roomID, userID, inviterID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[roomID] == nil {
		f.members[roomID] = make(map[string]*membership)
	}
	if _, ok := f.members[roomID][userID]; ok {
		return nil
	}
	f.members[roomID][userID] = &membership{inviterID: inviterID, roles: make(map[Role]struct{})}
	return nil
}

func (f *fakeRooms) RemoveMember(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[roomID], userID)
	return nil
}

func (f *fakeRooms) UpdateRoomType(_ context.Context, roomID string, roomType RoomType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.byID[roomID]; ok {
		room.Type = roomType
	}
	return nil
}

func (f *fakeRooms) UpdateRoomName(_ context.Context, roomID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.byID[roomID]; ok {
		room.Name = name
	}
	return nil
}

func (f *fakeRooms) UpdateRoomDisplayName(_ context.Context, roomID, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.byID[roomID]; ok {
		room.DisplayName = displayName
	}
	return nil
}

func (f *fakeRooms) UpdateRoomTopic(_ context.Context, roomID, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.byID[roomID]; ok {
		room.Topic = topic
	}
	return nil
}

func (f *fakeRooms) ApplyRoles(_ context.Context, roomID, userID string, add, remove []Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[roomID][userID]
	if !ok {
		return nil
	}
	for _, r := range add {
		member.roles[r] = struct{}{}
	}
	for _, r := range remove {
		delete(member.roles, r)
	}
	return nil
}

func (f *fakeRooms) memberCount(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[roomID])
}

// fakeMessages is an in-memory MessageRepository.
type fakeMessages struct {
	mu         sync.Mutex
	byExternal map[id.EventID]*Message
	byID       map[string]*Message
	reactions  []*Reaction
	nextID     int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		byExternal: make(map[id.EventID]*Message),
		byID:       make(map[string]*Message),
	}
}

func (f *fakeMessages) GetMessageByExternalEventID(_ context.Context, eventID id.EventID) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eventID == "" {
		return nil, nil
	}
	return f.byExternal[eventID], nil
}

func (f *fakeMessages) GetMessageByInternalID(_ context.Context, internalID string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[internalID], nil
}

func (f *fakeMessages) CreateMessage(_ context.Context, msg *Message) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ExternalEventID != "" {
		if existing, ok := f.byExternal[msg.ExternalEventID]; ok {
			return existing, nil
		}
	}
	f.nextID++
	stored := *msg
	stored.ID = fmt.Sprintf("msg-%d", f.nextID)
	if stored.ExternalEventID != "" {
		f.byExternal[stored.ExternalEventID] = &stored
	}
	f.byID[stored.ID] = &stored
	return &stored, nil
}

func (f *fakeMessages) UpdateMessageText(_ context.Context, internalID, newText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.byID[internalID]; ok {
		msg.Text = newText
	}
	return nil
}

func (f *fakeMessages) DeleteMessage(_ context.Context, internalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.byID[internalID]; ok {
		delete(f.byExternal, msg.ExternalEventID)
		delete(f.byID, internalID)
	}
	return nil
}

func (f *fakeMessages) AddReaction(_ context.Context, reaction *Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *reaction
	f.reactions = append(f.reactions, &stored)
	return nil
}

func (f *fakeMessages) FindMessageByReactionEventID(_ context.Context, eventID id.EventID, username string) (*Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reaction := range f.reactions {
		if reaction.ExternalEventID == eventID && reaction.Username == username {
			return f.byID[reaction.MessageID], reaction.Emoji, nil
		}
	}
	return nil, "", nil
}

func (f *fakeMessages) RemoveReaction(_ context.Context, messageID, username, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.reactions[:0]
	for _, reaction := range f.reactions {
		if reaction.MessageID == messageID && reaction.Username == username && reaction.Emoji == emoji {
			continue
		}
		kept = append(kept, reaction)
	}
	f.reactions = kept
	return nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

// fakeFiles records uploads in memory.
type fakeFiles struct {
	mu      sync.Mutex
	uploads []FileInfo
	nextID  int
}

func (f *fakeFiles) UploadFile(_ context.Context, roomID, userID string, info FileInfo, content io.Reader) (*StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.nextID++
	f.uploads = append(f.uploads, info)
	return &StoredFile{
		ID:       fmt.Sprintf("file-%d", f.nextID),
		Name:     info.Name,
		Size:     int64(len(data)),
		MimeType: info.MimeType,
	}, nil
}

type joinCall struct {
	roomID id.RoomID
	userID id.UserID
}

// mockGateway records outbound calls and answers with canned data.
type mockGateway struct {
	mu            sync.Mutex
	joins         []joinCall
	registered    []string
	sentEvents    []id.EventID
	historical    []*MembershipEvent
	historicalErr error
	downloadData  []byte
	nextEventID   int
}

func (m *mockGateway) JoinRoom(_ context.Context, roomID id.RoomID, userID id.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins = append(m.joins, joinCall{roomID: roomID, userID: userID})
	return nil
}

func (m *mockGateway) InviteToRoom(context.Context, id.RoomID, id.UserID, id.UserID) error {
	return nil
}
func (m *mockGateway) LeaveRoom(context.Context, id.RoomID, id.UserID) error { return nil }
func (m *mockGateway) KickUser(context.Context, id.RoomID, id.UserID, id.UserID) error {
	return nil
}

func (m *mockGateway) nextEvent() id.EventID {
	m.nextEventID++
	return id.EventID(fmt.Sprintf("$sent-%d", m.nextEventID))
}

func (m *mockGateway) SendMessage(_ context.Context, _ id.RoomID, _ id.UserID, _, _ string) (id.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evt := m.nextEvent()
	m.sentEvents = append(m.sentEvents, evt)
	return evt, nil
}

func (m *mockGateway) SendReply(_ context.Context, _ id.RoomID, _ id.UserID, _ id.EventID, _, _ string) (id.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextEvent(), nil
}

func (m *mockGateway) SendFile(_ context.Context, _ id.RoomID, _ id.UserID, _ FileInfo, _ []byte) (id.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextEvent(), nil
}

func (m *mockGateway) SendReplyFile(_ context.Context, _ id.RoomID, _ id.UserID, _ id.EventID, _ FileInfo, _ []byte) (id.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextEvent(), nil
}

func (m *mockGateway) SendReaction(_ context.Context, _ id.RoomID, _ id.UserID, _ id.EventID, _ string) (id.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextEvent(), nil
}

func (m *mockGateway) UpdateMessage(context.Context, id.RoomID, id.UserID, id.EventID, string, string) error {
	return nil
}
func (m *mockGateway) RedactEvent(context.Context, id.RoomID, id.UserID, id.EventID) error {
	return nil
}
func (m *mockGateway) SetRoomName(context.Context, id.RoomID, id.UserID, string) error  { return nil }
func (m *mockGateway) SetRoomTopic(context.Context, id.RoomID, id.UserID, string) error { return nil }
func (m *mockGateway) SetPowerLevel(context.Context, id.RoomID, id.UserID, id.UserID, int) error {
	return nil
}

func (m *mockGateway) RegisterUser(_ context.Context, username string) (id.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, username)
	return id.UserID("@" + username + ":" + testHomeDomain), nil
}

func (m *mockGateway) SetDisplayName(context.Context, id.UserID, string) error { return nil }
func (m *mockGateway) SetAvatarURL(context.Context, id.UserID, string) error   { return nil }
func (m *mockGateway) GetProfile(context.Context, id.UserID) (*UserProfile, error) {
	return &UserProfile{}, nil
}

func (m *mockGateway) GetRoomHistoricalJoinEvents(_ context.Context, _ id.RoomID, _ id.UserID, _ []id.UserID) ([]*MembershipEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historical, m.historicalErr
}

func (m *mockGateway) DownloadFile(context.Context, id.UserID, string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloadData, nil
}

func (m *mockGateway) NotifyUserTyping(context.Context, id.RoomID, id.UserID, bool) error {
	return nil
}

func (m *mockGateway) ExtractOrigin(externalID string) string {
	return ExtractOrigin(externalID, testHomeDomain)
}

func (m *mockGateway) joinCalls() []joinCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]joinCall(nil), m.joins...)
}

// fakeNotifier records typing subscriptions.
type fakeNotifier struct {
	mu            sync.Mutex
	subscriptions []string
}

func (f *fakeNotifier) SubscribeToTyping(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions = append(f.subscriptions, roomID)
}

// fakeQueue records re-enqueued events without processing them.
type fakeQueue struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeQueue) AddToQueue(evt Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

// fixture bundles a receiver with all its fakes.
type fixture struct {
	receiver *Receiver
	users    *fakeUsers
	rooms    *fakeRooms
	messages *fakeMessages
	files    *fakeFiles
	gateway  *mockGateway
	notifier *fakeNotifier
	queue    *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    newFakeUsers(),
		rooms:    newFakeRooms(),
		messages: newFakeMessages(),
		files:    &fakeFiles{},
		gateway:  &mockGateway{downloadData: []byte("content")},
		notifier: &fakeNotifier{},
		queue:    &fakeQueue{},
	}
	log := zerolog.Nop()
	resolver := NewResolver(f.users, f.gateway, testHomeDomain, log)
	f.receiver = NewReceiver(ReceiverParams{
		Rooms:    f.rooms,
		Users:    f.users,
		Messages: f.messages,
		Files:    f.files,
		Resolver: resolver,
		Adapter:  NewMessageAdapter(testHomeDomain),
		Notifier: f.notifier,
		Gateway:  f.gateway,
		Queue:    f.queue,

		HomeDomain:  testHomeDomain,
		ServerURL:   testServerURL,
		MaxFileSize: testMaxFile,
		Log:         log,
	})
	t.Cleanup(f.receiver.Close)
	return f
}

// seedRoom creates a room and its creator directly through the fakes.
func (f *fixture) seedRoom(t *testing.T, externalID id.RoomID, roomType RoomType, creator id.UserID, dmMembers ...id.UserID) *FederatedRoom {
	t.Helper()
	ctx := context.Background()
	user, err := f.users.CreateUser(ctx, &FederatedUser{
		ExternalID: creator,
		Username:   UsernameForExternalID(creator, testHomeDomain),
		IsLocal:    IsLocalOrigin(creator, testHomeDomain),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	room, err := f.rooms.CreateRoom(ctx, &FederatedRoom{
		ExternalID: externalID,
		Type:       roomType,
		CreatorID:  user.ID,
		DMMembers:  dmMembers,
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := f.rooms.AddMember(ctx, room.ID, user.ID, ""); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	return room
}

// seedUser creates a user record directly.
func (f *fixture) seedUser(t *testing.T, externalID id.UserID) *FederatedUser {
	t.Helper()
	user, err := f.users.CreateUser(context.Background(), &FederatedUser{
		ExternalID: externalID,
		Username:   UsernameForExternalID(externalID, testHomeDomain),
		IsLocal:    IsLocalOrigin(externalID, testHomeDomain),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}
