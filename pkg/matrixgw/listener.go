// Copyright 2024-2026 Aiku AI

package matrixgw

import (
	"context"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/chat-federation/pkg/federation"
)

// eventSink receives translated events for asynchronous processing.
type eventSink interface {
	AddToQueue(evt federation.Event)
}

// typingSink receives remote typing snapshots.
type typingSink interface {
	HandleExternalTyping(ctx context.Context, roomID id.RoomID, typingUsers []id.UserID)
}

// Listener consumes appservice transactions and translates homeserver events
// into the engine's event types. Translation is lossy on purpose: events the
// engine has no handler for are dropped here.
type Listener struct {
	gw       *Gateway
	ep       *appservice.EventProcessor
	sink     eventSink
	typing   typingSink
	log      zerolog.Logger
	stopFunc context.CancelFunc
}

// NewListener wires the event processor to the queue and typing notifier.
func NewListener(gw *Gateway, sink eventSink, typing typingSink, log zerolog.Logger) *Listener {
	l := &Listener{
		gw:     gw,
		ep:     appservice.NewEventProcessor(gw.AppService()),
		sink:   sink,
		typing: typing,
		log:    log.With().Str("component", "matrix_listener").Logger(),
	}
	l.ep.On(event.StateMember, l.handleMember)
	l.ep.On(event.EventMessage, l.handleMessage)
	l.ep.On(event.EventReaction, l.handleReaction)
	l.ep.On(event.EventRedaction, l.handleRedaction)
	l.ep.On(event.StateRoomName, l.handleRoomName)
	l.ep.On(event.StateTopic, l.handleTopic)
	l.ep.On(event.StateJoinRules, l.handleJoinRules)
	l.ep.On(event.StatePowerLevels, l.handlePowerLevels)
	l.ep.On(event.EphemeralEventTyping, l.handleTyping)
	return l
}

// Start begins serving appservice transactions.
func (l *Listener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.stopFunc = cancel
	go l.gw.AppService().Start()
	go l.ep.Start(ctx)
	l.log.Info().Msg("Appservice listener started")
}

// Stop halts transaction intake. Call before draining the queue so no new
// events arrive mid-drain.
func (l *Listener) Stop() {
	if l.stopFunc != nil {
		l.stopFunc()
	}
	l.ep.Stop()
	l.gw.AppService().Stop()
}

// isBridgeEcho drops events emitted by the bridge bot itself. Events from
// bridge-managed user intents still pass; origin handling in the engine
// decides what to do with them.
func (l *Listener) isBridgeEcho(evt *event.Event) bool {
	return evt.Sender == l.gw.BotUserID()
}

func (l *Listener) handleMember(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMember()
	if content == nil {
		return
	}
	invitee := id.UserID(evt.GetStateKey())
	me := &federation.MembershipEvent{
		ExternalRoomID:    evt.RoomID,
		ExternalEventID:   evt.ID,
		ExternalInviterID: evt.Sender,
		ExternalInviteeID: invitee,
		Origin:            l.gw.originOf(evt.Sender),
	}
	switch content.Membership {
	case event.MembershipJoin:
		me.ExternalInviterID = invitee
	case event.MembershipInvite:
		if content.IsDirect {
			me.RoomType = federation.RoomTypeDirectMessage
		} else {
			me.RoomType = federation.RoomTypeChannel
		}
	case event.MembershipLeave, event.MembershipBan:
		me.Leave = true
		// The affected user is the actor for removal semantics.
		me.ExternalInviterID = invitee
	default:
		return
	}
	if content.Displayname != "" || content.AvatarURL != "" {
		me.Profile = &federation.UserProfile{
			DisplayName: content.Displayname,
			AvatarURL:   string(content.AvatarURL),
		}
	}
	l.sink.AddToQueue(me)
}

func (l *Listener) handleMessage(ctx context.Context, evt *event.Event) {
	if l.isBridgeEcho(evt) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return
	}

	if replaceID := content.RelatesTo.GetReplaceID(); replaceID != "" {
		newContent := content.NewContent
		if newContent == nil {
			newContent = content
		}
		l.sink.AddToQueue(&federation.EditEvent{
			ExternalRoomID:   evt.RoomID,
			ExternalSenderID: evt.Sender,
			ExternalEventID:  evt.ID,
			EditsEventID:     replaceID,
			NewRawText:       newContent.Body,
			NewFormattedText: newContent.FormattedBody,
		})
		return
	}

	replyTo := content.RelatesTo.GetReplyTo()

	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		l.sink.AddToQueue(&federation.MessageEvent{
			ExternalRoomID:   evt.RoomID,
			ExternalSenderID: evt.Sender,
			ExternalEventID:  evt.ID,
			RawText:          content.Body,
			FormattedText:    content.FormattedBody,
			ReplyToEventID:   replyTo,
		})
	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		info := federation.FileInfo{
			Name:     content.Body,
			URL:      string(content.URL),
			MimeType: "application/octet-stream",
		}
		if content.Info != nil {
			info.Size = int64(content.Info.Size)
			if content.Info.MimeType != "" {
				info.MimeType = content.Info.MimeType
			}
		}
		l.sink.AddToQueue(&federation.FileMessageEvent{
			ExternalRoomID:   evt.RoomID,
			ExternalSenderID: evt.Sender,
			ExternalEventID:  evt.ID,
			File:             info,
			ReplyToEventID:   replyTo,
		})
	default:
		l.log.Trace().
			Str("msgtype", string(content.MsgType)).
			Msg("Dropping message with unhandled msgtype")
	}
}

func (l *Listener) handleReaction(ctx context.Context, evt *event.Event) {
	if l.isBridgeEcho(evt) {
		return
	}
	content := evt.Content.AsReaction()
	if content == nil || content.RelatesTo.EventID == "" {
		return
	}
	l.sink.AddToQueue(&federation.ReactionEvent{
		ExternalRoomID:   evt.RoomID,
		ExternalSenderID: evt.Sender,
		ExternalEventID:  evt.ID,
		TargetEventID:    content.RelatesTo.EventID,
		Emoji:            content.RelatesTo.Key,
	})
}

func (l *Listener) handleRedaction(ctx context.Context, evt *event.Event) {
	if l.isBridgeEcho(evt) {
		return
	}
	if evt.Redacts == "" {
		return
	}
	l.sink.AddToQueue(&federation.RedactEvent{
		ExternalRoomID:   evt.RoomID,
		ExternalSenderID: evt.Sender,
		ExternalEventID:  evt.ID,
		RedactsEventID:   evt.Redacts,
	})
}

func (l *Listener) handleRoomName(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsRoomName()
	if content == nil {
		return
	}
	l.sink.AddToQueue(&federation.NameChangeEvent{
		ExternalRoomID:   evt.RoomID,
		ExternalSenderID: evt.Sender,
		ExternalEventID:  evt.ID,
		Name:             content.Name,
	})
}

func (l *Listener) handleTopic(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsTopic()
	if content == nil {
		return
	}
	l.sink.AddToQueue(&federation.TopicChangeEvent{
		ExternalRoomID:   evt.RoomID,
		ExternalSenderID: evt.Sender,
		ExternalEventID:  evt.ID,
		Topic:            content.Topic,
	})
}

func (l *Listener) handleJoinRules(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsJoinRules()
	if content == nil {
		return
	}
	roomType := federation.RoomTypePrivateGroup
	if content.JoinRule == event.JoinRulePublic {
		roomType = federation.RoomTypeChannel
	}
	l.sink.AddToQueue(&federation.JoinRuleEvent{
		ExternalRoomID:  evt.RoomID,
		ExternalEventID: evt.ID,
		RoomType:        roomType,
	})
}

// levelRole maps a Matrix power level onto the local role ladder.
func levelRole(level int) federation.Role {
	switch {
	case level >= 100:
		return federation.RoleOwner
	case level >= 50:
		return federation.RoleModerator
	default:
		return federation.RoleMember
	}
}

func (l *Listener) handlePowerLevels(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsPowerLevels()
	if content == nil {
		return
	}
	prevUsers := map[id.UserID]int{}
	if evt.Unsigned.PrevContent != nil {
		_ = evt.Unsigned.PrevContent.ParseRaw(event.StatePowerLevels)
		if prev := evt.Unsigned.PrevContent.AsPowerLevels(); prev != nil {
			prevUsers = prev.Users
		}
	}

	changes := make(map[id.UserID][]federation.RoleChange)
	for userID, level := range content.Users {
		oldRole := levelRole(prevUsers[userID])
		newRole := levelRole(level)
		if oldRole == newRole {
			continue
		}
		var userChanges []federation.RoleChange
		if oldRole != federation.RoleMember {
			userChanges = append(userChanges, federation.RoleChange{Action: federation.RoleActionRemove, Role: oldRole})
		}
		if newRole != federation.RoleMember {
			userChanges = append(userChanges, federation.RoleChange{Action: federation.RoleActionAdd, Role: newRole})
		}
		if len(userChanges) > 0 {
			changes[userID] = userChanges
		}
	}
	for userID, oldLevel := range prevUsers {
		if _, still := content.Users[userID]; still {
			continue
		}
		// Dropped from the map means reset to the default level.
		oldRole := levelRole(oldLevel)
		if oldRole != federation.RoleMember {
			changes[userID] = []federation.RoleChange{{Action: federation.RoleActionRemove, Role: oldRole}}
		}
	}
	if len(changes) == 0 {
		return
	}
	l.sink.AddToQueue(&federation.PowerLevelsEvent{
		ExternalRoomID:   evt.RoomID,
		ExternalSenderID: evt.Sender,
		ExternalEventID:  evt.ID,
		RoleChanges:      changes,
	})
}

func (l *Listener) handleTyping(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsTyping()
	if content == nil {
		return
	}
	l.typing.HandleExternalTyping(ctx, evt.RoomID, content.UserIDs)
}
