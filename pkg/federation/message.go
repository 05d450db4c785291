// Copyright 2024-2026 Aiku AI

package federation

import (
	"time"

	"maunium.net/go/mautrix/id"
)

// Message is the local message representation as seen by this subsystem.
// ExternalEventID is the de-duplication key for inbound delivery; it is
// empty for messages that never crossed the federation boundary.
type Message struct {
	ID       string
	RoomID   string
	SenderID string
	Text     string
	// QuoteLink is the reference link to the quoted message when this
	// message is a reply, empty otherwise.
	QuoteLink       string
	ExternalEventID id.EventID
	FileID          string
	CreatedAt       time.Time
	EditedAt        time.Time
}

// IsQuote reports whether the message quotes another message.
func (m *Message) IsQuote() bool {
	return m.QuoteLink != ""
}

// ShouldUpdateText reports whether applying an edit would actually change
// the stored text. Re-delivering an identical edit is a no-op so the local
// revision history gains no redundant entries.
func (m *Message) ShouldUpdateText(newText string) bool {
	return m.Text != newText
}

// Reaction is one (username, emoji) reaction on a message, keyed with the
// external event id that created it so it can be retracted symmetrically.
type Reaction struct {
	MessageID       string
	Username        string
	Emoji           string
	ExternalEventID id.EventID
}

// StoredFile is the descriptor returned by the file store after an upload.
type StoredFile struct {
	ID       string
	Name     string
	Size     int64
	MimeType string
	URL      string
}
