// Copyright 2024-2026 Aiku AI

package federation

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// dedupTTL bounds the fast-path cache of recently seen event ids. The
// authoritative dedup check is always the repository lookup; the cache only
// short-circuits bursts of duplicate delivery.
const dedupTTL = 10 * time.Minute

// eventRequeuer re-enqueues events produced while processing another event
// (historical join replay).
type eventRequeuer interface {
	AddToQueue(evt Event)
}

// Receiver is the federation event state machine. Every handler is
// best-effort and fails open: unknown rooms, unresolved actors, duplicate
// events and no-op state changes are dropped with a debug log instead of an
// error. The exception is the file message path, where upload and size
// errors propagate so the caller can report them distinctly.
type Receiver struct {
	rooms    RoomRepository
	users    UserRepository
	messages MessageRepository
	files    FileStore
	resolver *Resolver
	adapter  *MessageAdapter
	notifier TypingSubscriber
	gateway  Gateway
	queue    eventRequeuer

	homeDomain  string
	serverURL   string
	maxFileSize int64

	seenEvents *ttlcache.Cache[id.EventID, struct{}]
	log        zerolog.Logger
}

// ReceiverParams bundles the collaborators a Receiver needs.
type ReceiverParams struct {
	Rooms    RoomRepository
	Users    UserRepository
	Messages MessageRepository
	Files    FileStore
	Resolver *Resolver
	Adapter  *MessageAdapter
	Notifier TypingSubscriber
	Gateway  Gateway
	Queue    eventRequeuer

	HomeDomain  string
	ServerURL   string
	MaxFileSize int64
	Log         zerolog.Logger
}

// NewReceiver creates the event receiver.
func NewReceiver(params ReceiverParams) *Receiver {
	seen := ttlcache.New[id.EventID, struct{}](
		ttlcache.WithTTL[id.EventID, struct{}](dedupTTL),
	)
	go seen.Start()
	return &Receiver{
		rooms:       params.Rooms,
		users:       params.Users,
		messages:    params.Messages,
		files:       params.Files,
		resolver:    params.Resolver,
		adapter:     params.Adapter,
		notifier:    params.Notifier,
		gateway:     params.Gateway,
		queue:       params.Queue,
		homeDomain:  params.HomeDomain,
		serverURL:   params.ServerURL,
		maxFileSize: params.MaxFileSize,
		seenEvents:  seen,
		log:         params.Log.With().Str("component", "federation_receiver").Logger(),
	}
}

// Dispatch routes an event to its handler. Handler errors are logged here;
// nothing propagates to the network layer, which must not retry malformed or
// unexpected events indefinitely.
func (r *Receiver) Dispatch(ctx context.Context, evt Event) {
	log := r.log.With().
		Str("event_kind", string(evt.Kind())).
		Str("external_room_id", string(evt.RoomID())).
		Logger()

	var err error
	switch e := evt.(type) {
	case *CreateRoomEvent:
		err = r.HandleRoomCreate(ctx, e)
	case *MembershipEvent:
		err = r.HandleMembershipChange(ctx, e)
	case *MessageEvent:
		err = r.HandleMessage(ctx, e)
	case *EditEvent:
		err = r.HandleEditedMessage(ctx, e)
	case *FileMessageEvent:
		err = r.HandleFileMessage(ctx, e)
	case *JoinRuleEvent:
		err = r.HandleJoinRuleChange(ctx, e)
	case *NameChangeEvent:
		err = r.HandleNameChange(ctx, e)
	case *TopicChangeEvent:
		err = r.HandleTopicChange(ctx, e)
	case *RedactEvent:
		err = r.HandleRedaction(ctx, e)
	case *ReactionEvent:
		err = r.HandleReaction(ctx, e)
	case *PowerLevelsEvent:
		err = r.HandlePowerLevels(ctx, e)
	default:
		log.Trace().Msg("Unhandled event kind")
	}
	if err != nil {
		log.Warn().Err(err).Msg("Event handler failed")
	}
}

// HandleRoomCreate records the external room id on a room that was created
// programmatically on this side. Rooms already mapped, and creations not
// initiated locally, are ignored: creation of rooms from remote servers
// happens lazily on the first membership event instead.
func (r *Receiver) HandleRoomCreate(ctx context.Context, evt *CreateRoomEvent) error {
	existing, err := r.rooms.GetRoomByExternalID(ctx, evt.ExternalRoomID)
	if err != nil {
		return fmt.Errorf("failed to look up room: %w", err)
	}
	if existing != nil || !evt.WasInternallyCreated {
		return nil
	}
	room, err := r.rooms.GetRoomByInternalID(ctx, evt.InternalRoomID)
	if err != nil {
		return fmt.Errorf("failed to look up internal room: %w", err)
	}
	if room == nil || !room.IsDirectMessage() {
		return nil
	}
	return r.rooms.SetRoomExternalID(ctx, evt.InternalRoomID, evt.ExternalRoomID)
}

// HandleMembershipChange is the most complex path: it may update profiles,
// materialize rooms and shadow users, replace DM rooms, and instruct the
// gateway to join local users into external rooms.
func (r *Receiver) HandleMembershipChange(ctx context.Context, evt *MembershipEvent) error {
	log := r.log.With().
		Str("external_room_id", string(evt.ExternalRoomID)).
		Str("invitee", string(evt.ExternalInviteeID)).
		Logger()

	room, err := r.rooms.GetRoomByExternalID(ctx, evt.ExternalRoomID)
	if err != nil {
		return fmt.Errorf("failed to look up room: %w", err)
	}

	if evt.Profile != nil {
		if invitee, err := r.resolver.Resolve(ctx, evt.ExternalInviteeID); err == nil && invitee != nil {
			if err := r.resolver.UpdateProfile(ctx, invitee, evt.Profile); err != nil {
				log.Warn().Err(err).Msg("Failed to apply profile update")
			}
		}
	}

	// An echo of a locally initiated self-join, or a local event for a room
	// we never mapped, is not new remote state.
	if isSelfOriginatedEcho(evt) || (isLocalEvent(evt) && room == nil) {
		log.Debug().Msg("Dropping self-originated membership echo")
		return nil
	}

	inviter, err := r.resolver.Ensure(ctx, evt.ExternalInviterID, "")
	if err != nil || inviter == nil {
		log.Debug().AnErr("resolve_error", err).Msg("Dropping event with unresolvable inviter")
		return nil
	}
	invitee, err := r.resolver.Ensure(ctx, evt.ExternalInviteeID, "")
	if err != nil || invitee == nil {
		log.Debug().AnErr("resolve_error", err).Msg("Dropping event with unresolvable invitee")
		return nil
	}

	if room == nil && !isLocalEvent(evt) {
		if evt.RoomType == "" {
			log.Debug().Msg("Dropping creation event without room type")
			return nil
		}
		if evt.RoomType == RoomTypeDirectMessage {
			if wasBulkDMCreation(evt) {
				return r.createDMRoomBulk(ctx, evt, inviter)
			}
			return r.createDMRoomIncremental(ctx, evt, inviter, invitee)
		}
		if err := r.createChannelRoom(ctx, evt, inviter); err != nil {
			return err
		}
		room, err = r.rooms.GetRoomByExternalID(ctx, evt.ExternalRoomID)
		if err != nil || room == nil {
			return fmt.Errorf("room vanished after creation: %w", err)
		}
	}
	if room == nil {
		return nil
	}

	joined, err := r.rooms.IsMember(ctx, room.ID, invitee.ID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}

	if evt.Leave {
		if !joined {
			log.Debug().Msg("Dropping leave for user who is not a member")
			return nil
		}
		return r.rooms.RemoveMember(ctx, room.ID, invitee.ID)
	}

	if joined {
		log.Debug().Msg("Dropping duplicate join")
		return nil
	}

	// Adding a participant to a DM means replacing the room with a new one
	// whose member set is the union; DM membership is immutable in place.
	if !isLocalEvent(evt) && room.IsDirectMessage() {
		if room.HasDMMember(evt.ExternalInviteeID) {
			return nil
		}
		return r.replaceDMRoom(ctx, NewDMReplacement(room, inviter, evt.ExternalInviteeID))
	}

	inviterID := inviter.ID
	if isSelfJoin(evt) {
		inviterID = ""
	}
	if err := r.rooms.AddMember(ctx, room.ID, invitee.ID, inviterID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	// Only a local-origin invitee joining through an invite needs the
	// gateway join; the remote side of the bridge already has its own state.
	if invitee.IsLocal && !isSelfJoin(evt) {
		if err := r.gateway.JoinRoom(ctx, evt.ExternalRoomID, evt.ExternalInviteeID); err != nil {
			log.Warn().Err(err).Msg("Failed to join external room for local invitee")
		}
	}
	return nil
}

// createChannelRoom materializes a non-DM room from a remote-origin
// membership event, applies a carried room name, subscribes typing
// notifications, and replays the room's historical join events.
func (r *Receiver) createChannelRoom(ctx context.Context, evt *MembershipEvent, inviter *FederatedUser) error {
	room, err := r.rooms.CreateRoom(ctx, &FederatedRoom{
		ExternalID: evt.ExternalRoomID,
		Type:       evt.RoomType,
		CreatorID:  inviter.ID,
		Name:       NormalizeExternalID(id.UserID(evt.ExternalRoomID)),
	})
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	if err := r.rooms.AddMember(ctx, room.ID, inviter.ID, ""); err != nil {
		return fmt.Errorf("failed to add room creator: %w", err)
	}

	if err := r.gateway.JoinRoom(ctx, evt.ExternalRoomID, evt.ExternalInviteeID); err != nil {
		r.log.Warn().Err(err).
			Str("external_room_id", string(evt.ExternalRoomID)).
			Msg("Failed to join newly mapped room")
	}
	if evt.ExternalRoomName != "" {
		if err := r.HandleNameChange(ctx, &NameChangeEvent{
			ExternalRoomID:   evt.ExternalRoomID,
			ExternalSenderID: evt.ExternalInviterID,
			Name:             evt.ExternalRoomName,
		}); err != nil {
			r.log.Warn().Err(err).Msg("Failed to apply room name on creation")
		}
	}
	r.notifier.SubscribeToTyping(room.ID)

	history, err := r.gateway.GetRoomHistoricalJoinEvents(ctx, evt.ExternalRoomID, evt.ExternalInviteeID,
		[]id.UserID{evt.ExternalInviterID, evt.ExternalInviteeID})
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to fetch historical join events")
		return nil
	}
	for _, joinEvt := range history {
		r.queue.AddToQueue(joinEvt)
	}
	return nil
}

// createDMRoomBulk creates a DM room whose full member list was supplied
// atomically by the creation event.
func (r *Receiver) createDMRoomBulk(ctx context.Context, evt *MembershipEvent, inviter *FederatedUser) error {
	members := []id.UserID{inviter.ExternalID}
	for _, externalID := range evt.AllDMInvitees {
		if externalID == inviter.ExternalID {
			continue
		}
		if _, err := r.resolver.Ensure(ctx, externalID, ""); err != nil {
			r.log.Debug().Err(err).
				Str("invitee", string(externalID)).
				Msg("Dropping DM creation with unresolvable invitee")
			return nil
		}
		members = append(members, externalID)
	}

	room, err := r.createDMRecord(ctx, evt.ExternalRoomID, inviter, members)
	if err != nil {
		return err
	}
	r.notifier.SubscribeToTyping(room.ID)

	for _, externalID := range members {
		if externalID == inviter.ExternalID {
			continue
		}
		if IsLocalOrigin(externalID, r.homeDomain) {
			if err := r.gateway.JoinRoom(ctx, evt.ExternalRoomID, externalID); err != nil {
				r.log.Warn().Err(err).
					Str("invitee", string(externalID)).
					Msg("Failed to join DM for local invitee")
			}
		}
	}
	return nil
}

// createDMRoomIncremental creates a two-party DM when invitees trickle in
// one at a time via separate join events.
func (r *Receiver) createDMRoomIncremental(ctx context.Context, evt *MembershipEvent, inviter, invitee *FederatedUser) error {
	room, err := r.createDMRecord(ctx, evt.ExternalRoomID, inviter,
		[]id.UserID{inviter.ExternalID, invitee.ExternalID})
	if err != nil {
		return err
	}
	r.notifier.SubscribeToTyping(room.ID)
	if invitee.IsLocal {
		if err := r.gateway.JoinRoom(ctx, evt.ExternalRoomID, invitee.ExternalID); err != nil {
			r.log.Warn().Err(err).Msg("Failed to join DM for local invitee")
		}
	}
	return nil
}

// createDMRecord creates the DM room and its membership rows in one pass.
func (r *Receiver) createDMRecord(ctx context.Context, externalID id.RoomID, creator *FederatedUser, members []id.UserID) (*FederatedRoom, error) {
	room, err := r.rooms.CreateRoom(ctx, &FederatedRoom{
		ExternalID: externalID,
		Type:       RoomTypeDirectMessage,
		CreatorID:  creator.ID,
		DMMembers:  members,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DM room: %w", err)
	}
	for _, memberID := range members {
		member, err := r.resolver.Ensure(ctx, memberID, "")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DM member: %w", err)
		}
		if err := r.rooms.AddMember(ctx, room.ID, member.ID, ""); err != nil {
			return nil, fmt.Errorf("failed to add DM member: %w", err)
		}
	}
	return room, nil
}

// replaceDMRoom applies a ReplaceRoomWithExpandedMembership operation: the
// old room is removed, the new one created with the union member set, and
// typing subscriptions move to the new internal id.
func (r *Receiver) replaceDMRoom(ctx context.Context, op *ReplaceRoomWithExpandedMembership) error {
	if err := r.rooms.RemoveRoom(ctx, op.Replaced.ID); err != nil {
		return fmt.Errorf("failed to remove replaced DM room: %w", err)
	}
	room, err := r.rooms.CreateRoom(ctx, op.NewRoom())
	if err != nil {
		return fmt.Errorf("failed to create replacement DM room: %w", err)
	}
	for _, memberID := range op.Members {
		member, err := r.resolver.Ensure(ctx, memberID, "")
		if err != nil {
			return fmt.Errorf("failed to resolve DM member: %w", err)
		}
		if err := r.rooms.AddMember(ctx, room.ID, member.ID, ""); err != nil {
			return fmt.Errorf("failed to add DM member: %w", err)
		}
	}
	r.notifier.SubscribeToTyping(room.ID)
	r.log.Debug().
		Str("replaced_room_id", op.Replaced.ID).
		Str("new_room_id", room.ID).
		Int("member_count", len(op.Members)).
		Msg("Replaced DM room with expanded membership")
	return nil
}

// resolveMessageContext performs the shared guards of the message paths:
// known room, resolvable sender. Returns nils when the event should drop.
func (r *Receiver) resolveMessageContext(ctx context.Context, roomID id.RoomID, senderID id.UserID) (*FederatedRoom, *FederatedUser, error) {
	room, err := r.rooms.GetRoomByExternalID(ctx, roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up room: %w", err)
	}
	if room == nil {
		return nil, nil, nil
	}
	sender, err := r.resolver.Resolve(ctx, senderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve sender: %w", err)
	}
	if sender == nil {
		return nil, nil, nil
	}
	return room, sender, nil
}

// isDuplicateEvent checks the fast-path cache and then the repository for a
// message already carrying this external event id.
func (r *Receiver) isDuplicateEvent(ctx context.Context, eventID id.EventID) (bool, error) {
	if r.seenEvents.Has(eventID) {
		return true, nil
	}
	existing, err := r.messages.GetMessageByExternalEventID(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed dedup lookup: %w", err)
	}
	return existing != nil, nil
}

// HandleMessage stores an inbound text message, translating content and
// resolving reply targets.
func (r *Receiver) HandleMessage(ctx context.Context, evt *MessageEvent) error {
	room, sender, err := r.resolveMessageContext(ctx, evt.ExternalRoomID, evt.ExternalSenderID)
	if err != nil {
		return err
	}
	if room == nil || sender == nil {
		r.log.Debug().
			Str("external_event_id", string(evt.ExternalEventID)).
			Msg("Dropping message for unknown room or sender")
		return nil
	}
	dup, err := r.isDuplicateEvent(ctx, evt.ExternalEventID)
	if err != nil {
		return err
	}
	if dup {
		r.log.Debug().
			Str("external_event_id", string(evt.ExternalEventID)).
			Msg("Dropping duplicate message delivery")
		return nil
	}

	text := r.adapter.ToInternalFormat(evt.RawText, evt.FormattedText)
	quoteLink := ""
	if evt.ReplyToEventID != "" {
		target, err := r.messages.GetMessageByExternalEventID(ctx, evt.ReplyToEventID)
		if err != nil {
			return fmt.Errorf("failed to look up reply target: %w", err)
		}
		if target == nil {
			r.log.Debug().Msg("Dropping reply to unknown message")
			return nil
		}
		quoteLink = r.messageLink(room, target.ID)
		text = r.adapter.ToInternalQuoteFormat(quoteLink, evt.RawText, evt.FormattedText)
	}

	_, err = r.messages.CreateMessage(ctx, &Message{
		RoomID:          room.ID,
		SenderID:        sender.ID,
		Text:            text,
		QuoteLink:       quoteLink,
		ExternalEventID: evt.ExternalEventID,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	r.seenEvents.Set(evt.ExternalEventID, struct{}{}, ttlcache.DefaultTTL)
	return nil
}

// HandleEditedMessage applies an inbound edit, skipping edits that would not
// change the stored text and edits of local quotes echoed back.
func (r *Receiver) HandleEditedMessage(ctx context.Context, evt *EditEvent) error {
	room, sender, err := r.resolveMessageContext(ctx, evt.ExternalRoomID, evt.ExternalSenderID)
	if err != nil {
		return err
	}
	if room == nil || sender == nil {
		return nil
	}
	msg, err := r.messages.GetMessageByExternalEventID(ctx, evt.EditsEventID)
	if err != nil {
		return fmt.Errorf("failed to look up edited message: %w", err)
	}
	if msg == nil {
		r.log.Debug().Msg("Dropping edit of unknown message")
		return nil
	}

	var newText string
	if msg.IsQuote() {
		// Quote edits generated on this side come back as echoes.
		if IsLocalOrigin(evt.ExternalSenderID, r.homeDomain) {
			return nil
		}
		newText = r.adapter.ToInternalQuoteFormat(msg.QuoteLink, evt.NewRawText, evt.NewFormattedText)
	} else {
		newText = r.adapter.ToInternalFormat(evt.NewRawText, evt.NewFormattedText)
	}
	if !msg.ShouldUpdateText(newText) {
		r.log.Debug().Msg("Dropping edit with unchanged content")
		return nil
	}
	return r.messages.UpdateMessageText(ctx, msg.ID, newText)
}

// HandleFileMessage downloads the attachment through the gateway, stores it
// locally and records the file message. Size and upload failures propagate
// so the send pathway can report them distinctly.
func (r *Receiver) HandleFileMessage(ctx context.Context, evt *FileMessageEvent) error {
	room, sender, err := r.resolveMessageContext(ctx, evt.ExternalRoomID, evt.ExternalSenderID)
	if err != nil {
		return err
	}
	if room == nil || sender == nil {
		return nil
	}
	dup, err := r.isDuplicateEvent(ctx, evt.ExternalEventID)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	if r.maxFileSize > 0 && evt.File.Size > r.maxFileSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, evt.File.Size, r.maxFileSize)
	}

	content, err := r.gateway.DownloadFile(ctx, sender.ExternalID, evt.File.URL)
	if err != nil {
		return fmt.Errorf("failed to download file content: %w", err)
	}
	stored, err := r.files.UploadFile(ctx, room.ID, sender.ID, evt.File, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}

	text := ""
	quoteLink := ""
	if evt.ReplyToEventID != "" {
		target, err := r.messages.GetMessageByExternalEventID(ctx, evt.ReplyToEventID)
		if err != nil {
			return fmt.Errorf("failed to look up reply target: %w", err)
		}
		if target == nil {
			return nil
		}
		quoteLink = r.messageLink(room, target.ID)
		text = r.adapter.ToInternalQuoteFormat(quoteLink, "", "")
	}

	_, err = r.messages.CreateMessage(ctx, &Message{
		RoomID:          room.ID,
		SenderID:        sender.ID,
		Text:            text,
		QuoteLink:       quoteLink,
		ExternalEventID: evt.ExternalEventID,
		FileID:          stored.ID,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store file message: %w", err)
	}
	r.seenEvents.Set(evt.ExternalEventID, struct{}{}, ttlcache.DefaultTTL)
	return nil
}

// HandleJoinRuleChange maps a join-rule change onto the room type. DM rooms
// never change type.
func (r *Receiver) HandleJoinRuleChange(ctx context.Context, evt *JoinRuleEvent) error {
	room, err := r.rooms.GetRoomByExternalID(ctx, evt.ExternalRoomID)
	if err != nil {
		return fmt.Errorf("failed to look up room: %w", err)
	}
	if room == nil || room.IsDirectMessage() || room.Type == evt.RoomType {
		return nil
	}
	return r.rooms.UpdateRoomType(ctx, room.ID, evt.RoomType)
}

// HandleNameChange updates the room's display name, additionally pinning the
// canonical name to the external id for foreign-origin rooms.
func (r *Receiver) HandleNameChange(ctx context.Context, evt *NameChangeEvent) error {
	room, err := r.rooms.GetRoomByExternalID(ctx, evt.ExternalRoomID)
	if err != nil {
		return fmt.Errorf("failed to look up room: %w", err)
	}
	if room == nil {
		return nil
	}
	sender, err := r.resolver.Resolve(ctx, evt.ExternalSenderID)
	if err != nil || sender == nil {
		return nil
	}

	if ExtractOrigin(string(evt.ExternalRoomID), r.homeDomain) != r.homeDomain {
		externalName := NormalizeExternalID(id.UserID(evt.ExternalRoomID))
		if room.Name != externalName {
			if err := r.rooms.UpdateRoomName(ctx, room.ID, externalName); err != nil {
				return fmt.Errorf("failed to pin room name: %w", err)
			}
		}
	}
	if !room.ShouldUpdateDisplayName(evt.Name) {
		r.log.Debug().Msg("Dropping name change with unchanged value")
		return nil
	}
	return r.rooms.UpdateRoomDisplayName(ctx, room.ID, evt.Name)
}

// HandleTopicChange updates the room topic unless unchanged.
func (r *Receiver) HandleTopicChange(ctx context.Context, evt *TopicChangeEvent) error {
	room, err := r.rooms.GetRoomByExternalID(ctx, evt.ExternalRoomID)
	if err != nil {
		return fmt.Errorf("failed to look up room: %w", err)
	}
	if room == nil {
		return nil
	}
	if !room.ShouldUpdateTopic(evt.Topic) {
		r.log.Debug().Msg("Dropping topic change with unchanged value")
		return nil
	}
	sender, err := r.resolver.Resolve(ctx, evt.ExternalSenderID)
	if err != nil || sender == nil {
		return nil
	}
	return r.rooms.UpdateRoomTopic(ctx, room.ID, evt.Topic)
}

// HandleRedaction retracts a message or a reaction, resolved by which
// mapping the redacted event id matches.
func (r *Receiver) HandleRedaction(ctx context.Context, evt *RedactEvent) error {
	room, sender, err := r.resolveMessageContext(ctx, evt.ExternalRoomID, evt.ExternalSenderID)
	if err != nil {
		return err
	}
	if room == nil || sender == nil {
		return nil
	}

	msg, err := r.messages.GetMessageByExternalEventID(ctx, evt.RedactsEventID)
	if err != nil {
		return fmt.Errorf("failed to look up redacted message: %w", err)
	}
	if msg != nil {
		return r.messages.DeleteMessage(ctx, msg.ID)
	}

	reacted, emoji, err := r.messages.FindMessageByReactionEventID(ctx, evt.RedactsEventID, sender.Username)
	if err != nil {
		return fmt.Errorf("failed to look up redacted reaction: %w", err)
	}
	if reacted == nil {
		r.log.Debug().Msg("Dropping redaction of unknown event")
		return nil
	}
	return r.messages.RemoveReaction(ctx, reacted.ID, sender.Username, emoji)
}

// HandleReaction records an inbound reaction keyed by (username, emoji) with
// its external event id for later symmetric removal.
func (r *Receiver) HandleReaction(ctx context.Context, evt *ReactionEvent) error {
	room, sender, err := r.resolveMessageContext(ctx, evt.ExternalRoomID, evt.ExternalSenderID)
	if err != nil {
		return err
	}
	if room == nil || sender == nil {
		return nil
	}
	msg, err := r.messages.GetMessageByExternalEventID(ctx, evt.TargetEventID)
	if err != nil {
		return fmt.Errorf("failed to look up reaction target: %w", err)
	}
	if msg == nil {
		r.log.Debug().Msg("Dropping reaction to unknown message")
		return nil
	}
	return r.messages.AddReaction(ctx, &Reaction{
		MessageID:       msg.ID,
		Username:        sender.Username,
		Emoji:           emojiToReactionKey(evt.Emoji),
		ExternalEventID: evt.ExternalEventID,
	})
}

// HandlePowerLevels applies role changes derived from an external
// power-level diff to the affected users.
func (r *Receiver) HandlePowerLevels(ctx context.Context, evt *PowerLevelsEvent) error {
	room, sender, err := r.resolveMessageContext(ctx, evt.ExternalRoomID, evt.ExternalSenderID)
	if err != nil {
		return err
	}
	if room == nil || sender == nil {
		return nil
	}
	for externalID, changes := range evt.RoleChanges {
		target, err := r.resolver.Resolve(ctx, externalID)
		if err != nil || target == nil {
			continue
		}
		var add, remove []Role
		for _, change := range changes {
			switch change.Action {
			case RoleActionAdd:
				add = append(add, change.Role)
			case RoleActionRemove:
				remove = append(remove, change.Role)
			}
		}
		if len(add) == 0 && len(remove) == 0 {
			continue
		}
		if err := r.rooms.ApplyRoles(ctx, room.ID, target.ID, add, remove); err != nil {
			r.log.Warn().Err(err).
				Str("target", string(externalID)).
				Msg("Failed to apply role change")
		}
	}
	return nil
}

// Close stops the dedup cache's expiration loop.
func (r *Receiver) Close() {
	r.seenEvents.Stop()
}

// messageLink builds the local permalink embedded in quote messages.
func (r *Receiver) messageLink(room *FederatedRoom, messageID string) string {
	route := "channel/" + room.Name
	if room.IsDirectMessage() {
		route = "direct/" + room.ID
	}
	return fmt.Sprintf("%s/%s?msg=%s", r.serverURL, route, messageID)
}
