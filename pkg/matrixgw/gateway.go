// Copyright 2024-2026 Aiku AI

// Package matrixgw implements the outbound gateway and inbound listener over
// the Matrix application service API.
package matrixgw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/chat-federation/pkg/federation"
)

const typingTimeout = 10 * time.Second

// Gateway implements federation.Gateway over appservice intents. Every
// operation is performed as the acting user's intent, so the homeserver sees
// the events under the correct identity.
type Gateway struct {
	as  *appservice.AppService
	log zerolog.Logger

	homeDomain string
}

// New builds the appservice and wraps it in a Gateway.
func New(cfg *federation.Config, log zerolog.Logger) (*Gateway, error) {
	as := appservice.Create()
	as.Log = log.With().Str("component", "appservice").Logger()
	as.HomeserverDomain = cfg.HomeDomain
	if err := as.SetHomeserverURL(cfg.HomeserverURL); err != nil {
		return nil, fmt.Errorf("invalid homeserver url: %w", err)
	}

	reg, err := appservice.LoadRegistration(cfg.RegistrationPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	as.Registration = reg

	host, portStr, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid listen port: %w", err)
	}
	as.Host = appservice.HostConfig{Hostname: host, Port: uint16(port)}

	return &Gateway{
		as:         as,
		log:        log.With().Str("component", "matrix_gateway").Logger(),
		homeDomain: cfg.HomeDomain,
	}, nil
}

// AppService exposes the underlying appservice for the listener.
func (g *Gateway) AppService() *appservice.AppService {
	return g.as
}

// BotUserID returns the bridge bot's own user id.
func (g *Gateway) BotUserID() id.UserID {
	return g.as.BotMXID()
}

func (g *Gateway) intent(userID id.UserID) *appservice.IntentAPI {
	if userID == "" || userID == g.as.BotMXID() {
		return g.as.BotIntent()
	}
	return g.as.Intent(userID)
}

func (g *Gateway) JoinRoom(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	return g.intent(userID).EnsureJoined(ctx, roomID)
}

func (g *Gateway) InviteToRoom(ctx context.Context, roomID id.RoomID, inviterID, inviteeID id.UserID) error {
	_, err := g.intent(inviterID).InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: inviteeID})
	return err
}

func (g *Gateway) LeaveRoom(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	_, err := g.intent(userID).LeaveRoom(ctx, roomID)
	return err
}

func (g *Gateway) KickUser(ctx context.Context, roomID id.RoomID, targetID, ownerID id.UserID) error {
	_, err := g.intent(ownerID).KickUser(ctx, roomID, &mautrix.ReqKickUser{UserID: targetID})
	return err
}

func messageContent(rawText, htmlText string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    rawText,
	}
	if htmlText != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = htmlText
	}
	return content
}

func (g *Gateway) SendMessage(ctx context.Context, roomID id.RoomID, senderID id.UserID, rawText, htmlText string) (id.EventID, error) {
	resp, err := g.intent(senderID).SendMessageEvent(ctx, roomID, event.EventMessage, messageContent(rawText, htmlText))
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (g *Gateway) SendReply(ctx context.Context, roomID id.RoomID, senderID id.UserID, replyTo id.EventID, rawText, htmlText string) (id.EventID, error) {
	content := messageContent(rawText, htmlText)
	content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: replyTo}}
	resp, err := g.intent(senderID).SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func fileMsgType(mimeType string) event.MessageType {
	switch {
	case len(mimeType) >= 6 && mimeType[:6] == "image/":
		return event.MsgImage
	case len(mimeType) >= 6 && mimeType[:6] == "video/":
		return event.MsgVideo
	case len(mimeType) >= 6 && mimeType[:6] == "audio/":
		return event.MsgAudio
	default:
		return event.MsgFile
	}
}

func (g *Gateway) uploadAndBuildFileContent(ctx context.Context, senderID id.UserID, info federation.FileInfo, content []byte) (*event.MessageEventContent, error) {
	upload, err := g.intent(senderID).UploadBytes(ctx, content, info.MimeType)
	if err != nil {
		if errors.Is(err, mautrix.MTooLarge) {
			return nil, fmt.Errorf("%w: %s", federation.ErrFileTooLarge, info.Name)
		}
		return nil, err
	}
	return &event.MessageEventContent{
		MsgType: fileMsgType(info.MimeType),
		Body:    info.Name,
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: info.MimeType,
			Size:     int(info.Size),
		},
	}, nil
}

func (g *Gateway) SendFile(ctx context.Context, roomID id.RoomID, senderID id.UserID, info federation.FileInfo, content []byte) (id.EventID, error) {
	msgContent, err := g.uploadAndBuildFileContent(ctx, senderID, info, content)
	if err != nil {
		return "", err
	}
	resp, err := g.intent(senderID).SendMessageEvent(ctx, roomID, event.EventMessage, msgContent)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (g *Gateway) SendReplyFile(ctx context.Context, roomID id.RoomID, senderID id.UserID, replyTo id.EventID, info federation.FileInfo, content []byte) (id.EventID, error) {
	msgContent, err := g.uploadAndBuildFileContent(ctx, senderID, info, content)
	if err != nil {
		return "", err
	}
	msgContent.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: replyTo}}
	resp, err := g.intent(senderID).SendMessageEvent(ctx, roomID, event.EventMessage, msgContent)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (g *Gateway) SendReaction(ctx context.Context, roomID id.RoomID, senderID id.UserID, targetID id.EventID, key string) (id.EventID, error) {
	content := &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			Type:    event.RelAnnotation,
			EventID: targetID,
			Key:     key,
		},
	}
	resp, err := g.intent(senderID).SendMessageEvent(ctx, roomID, event.EventReaction, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (g *Gateway) UpdateMessage(ctx context.Context, roomID id.RoomID, senderID id.UserID, targetID id.EventID, newRawText, newHTMLText string) error {
	content := messageContent(newRawText, newHTMLText)
	content.SetEdit(targetID)
	_, err := g.intent(senderID).SendMessageEvent(ctx, roomID, event.EventMessage, content)
	return err
}

func (g *Gateway) RedactEvent(ctx context.Context, roomID id.RoomID, senderID id.UserID, targetID id.EventID) error {
	_, err := g.intent(senderID).RedactEvent(ctx, roomID, targetID)
	return err
}

func (g *Gateway) SetRoomName(ctx context.Context, roomID id.RoomID, senderID id.UserID, name string) error {
	_, err := g.intent(senderID).SendStateEvent(ctx, roomID, event.StateRoomName, "",
		&event.RoomNameEventContent{Name: name})
	return err
}

func (g *Gateway) SetRoomTopic(ctx context.Context, roomID id.RoomID, senderID id.UserID, topic string) error {
	_, err := g.intent(senderID).SendStateEvent(ctx, roomID, event.StateTopic, "",
		&event.TopicEventContent{Topic: topic})
	return err
}

func (g *Gateway) SetPowerLevel(ctx context.Context, roomID id.RoomID, ownerID, targetID id.UserID, level int) error {
	_, err := g.intent(ownerID).SetPowerLevel(ctx, roomID, targetID, level)
	return err
}

func (g *Gateway) RegisterUser(ctx context.Context, username string) (id.UserID, error) {
	userID := id.NewUserID(username, g.homeDomain)
	if err := g.as.Intent(userID).EnsureRegistered(ctx); err != nil {
		return "", fmt.Errorf("failed to register %s: %w", userID, err)
	}
	return userID, nil
}

func (g *Gateway) SetDisplayName(ctx context.Context, userID id.UserID, displayName string) error {
	return g.intent(userID).SetDisplayName(ctx, displayName)
}

func (g *Gateway) SetAvatarURL(ctx context.Context, userID id.UserID, avatarURL string) error {
	uri, err := id.ParseContentURI(avatarURL)
	if err != nil {
		return fmt.Errorf("invalid avatar url: %w", err)
	}
	return g.intent(userID).SetAvatarURL(ctx, uri)
}

func (g *Gateway) GetProfile(ctx context.Context, userID id.UserID) (*federation.UserProfile, error) {
	profile, err := g.as.BotIntent().GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &federation.UserProfile{
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL.String(),
	}, nil
}

// GetRoomHistoricalJoinEvents lists the room's current joined members and
// synthesizes self-join events for them so the dispatcher can materialize
// memberships that predate the room mapping.
func (g *Gateway) GetRoomHistoricalJoinEvents(ctx context.Context, roomID id.RoomID, asUser id.UserID, excluding []id.UserID) ([]*federation.MembershipEvent, error) {
	resp, err := g.intent(asUser).JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	excluded := make(map[id.UserID]struct{}, len(excluding))
	for _, userID := range excluding {
		excluded[userID] = struct{}{}
	}
	var events []*federation.MembershipEvent
	for userID := range resp.Joined {
		if _, skip := excluded[userID]; skip || userID == g.as.BotMXID() {
			continue
		}
		events = append(events, &federation.MembershipEvent{
			ExternalRoomID:    roomID,
			ExternalInviterID: userID,
			ExternalInviteeID: userID,
			Origin:            g.originOf(userID),
		})
	}
	return events, nil
}

func (g *Gateway) DownloadFile(ctx context.Context, asUser id.UserID, url string) ([]byte, error) {
	uri, err := id.ParseContentURI(url)
	if err != nil {
		return nil, fmt.Errorf("invalid content url: %w", err)
	}
	return g.intent(asUser).DownloadBytes(ctx, uri)
}

func (g *Gateway) NotifyUserTyping(ctx context.Context, roomID id.RoomID, userID id.UserID, typing bool) error {
	timeout := typingTimeout
	if !typing {
		timeout = 0
	}
	_, err := g.intent(userID).UserTyping(ctx, roomID, typing, timeout)
	return err
}

func (g *Gateway) ExtractOrigin(externalID string) string {
	return federation.ExtractOrigin(externalID, g.homeDomain)
}

func (g *Gateway) originOf(userID id.UserID) federation.Origin {
	if federation.IsLocalOrigin(userID, g.homeDomain) {
		return federation.OriginLocal
	}
	return federation.OriginRemote
}
