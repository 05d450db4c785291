// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/chat-federation/pkg/federation"
)

var selectMessages = `SELECT m.id, m.room_id, m.sender_id, m.text, m.quote_link, m.external_event_id, m.file_id, m.created_at, m.edited_at FROM messages m`

type messageRow struct {
	ID              string       `db:"id"`
	RoomID          string       `db:"room_id"`
	SenderID        string       `db:"sender_id"`
	Text            string       `db:"text"`
	QuoteLink       string       `db:"quote_link"`
	ExternalEventID string       `db:"external_event_id"`
	FileID          string       `db:"file_id"`
	CreatedAt       time.Time    `db:"created_at"`
	EditedAt        sql.NullTime `db:"edited_at"`
}

func (r *messageRow) toMessage() *federation.Message {
	msg := &federation.Message{
		ID:              r.ID,
		RoomID:          r.RoomID,
		SenderID:        r.SenderID,
		Text:            r.Text,
		QuoteLink:       r.QuoteLink,
		ExternalEventID: id.EventID(r.ExternalEventID),
		FileID:          r.FileID,
		CreatedAt:       r.CreatedAt,
	}
	if r.EditedAt.Valid {
		msg.EditedAt = r.EditedAt.Time
	}
	return msg
}

type sqliteMessageStore struct {
	db *sqlx.DB
}

// NewMessages creates the message repository over an open database.
func NewMessages(db *sqlx.DB) federation.MessageRepository {
	return &sqliteMessageStore{db: db}
}

func (s *sqliteMessageStore) GetMessageByExternalEventID(ctx context.Context, eventID id.EventID) (*federation.Message, error) {
	if eventID == "" {
		return nil, nil
	}
	var row messageRow
	err := s.db.GetContext(ctx, &row, selectMessages+" WHERE m.external_event_id = $1;", string(eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toMessage(), nil
}

func (s *sqliteMessageStore) GetMessageByInternalID(ctx context.Context, internalID string) (*federation.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, selectMessages+" WHERE m.id = $1;", internalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toMessage(), nil
}

// CreateMessage inserts the message. The partial unique index on
// external_event_id makes duplicate inbound delivery resolve to the first
// stored record.
func (s *sqliteMessageStore) CreateMessage(ctx context.Context, msg *federation.Message) (*federation.Message, error) {
	stmt := `
	INSERT INTO messages (id, room_id, sender_id, text, quote_link, external_event_id, file_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT DO NOTHING;
	`
	newID := uuid.NewString()
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, stmt,
		newID, msg.RoomID, msg.SenderID, msg.Text, msg.QuoteLink,
		string(msg.ExternalEventID), msg.FileID, createdAt)
	if err != nil {
		return nil, err
	}
	if msg.ExternalEventID != "" {
		created, err := s.GetMessageByExternalEventID(ctx, msg.ExternalEventID)
		if err != nil {
			return nil, err
		}
		if created == nil {
			return nil, fmt.Errorf("message %s missing after insert", msg.ExternalEventID)
		}
		return created, nil
	}
	return s.GetMessageByInternalID(ctx, newID)
}

func (s *sqliteMessageStore) UpdateMessageText(ctx context.Context, internalID, newText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = $1, edited_at = $2 WHERE id = $3;`,
		newText, time.Now().UTC(), internalID)
	return err
}

func (s *sqliteMessageStore) DeleteMessage(ctx context.Context, internalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1;`, internalID)
	return err
}

func (s *sqliteMessageStore) AddReaction(ctx context.Context, reaction *federation.Reaction) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO message_reactions (message_id, username, emoji, external_event_id)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (message_id, username, emoji) DO UPDATE SET external_event_id = excluded.external_event_id;
	`, reaction.MessageID, reaction.Username, reaction.Emoji, string(reaction.ExternalEventID))
	return err
}

func (s *sqliteMessageStore) FindMessageByReactionEventID(ctx context.Context, eventID id.EventID, username string) (*federation.Message, string, error) {
	var row struct {
		MessageID string `db:"message_id"`
		Emoji     string `db:"emoji"`
	}
	err := s.db.GetContext(ctx, &row, `
	SELECT message_id, emoji FROM message_reactions
	WHERE external_event_id = $1 AND username = $2;
	`, string(eventID), username)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	msg, err := s.GetMessageByInternalID(ctx, row.MessageID)
	if err != nil {
		return nil, "", err
	}
	return msg, row.Emoji, nil
}

func (s *sqliteMessageStore) RemoveReaction(ctx context.Context, messageID, username, emoji string) error {
	_, err := s.db.ExecContext(ctx, `
	DELETE FROM message_reactions
	WHERE message_id = $1 AND username = $2 AND emoji = $3;
	`, messageID, username, emoji)
	return err
}
