// Copyright 2024-2026 Aiku AI

package federation

import (
	"github.com/aiku/chat-federation/pkg/federation/homefmt"
	"github.com/aiku/chat-federation/pkg/federation/matrixfmt"
)

// MessageAdapter translates between the external rich-text format and the
// internal message representation. All conversions are deterministic so
// re-applying the same inbound edit yields the same stored text.
type MessageAdapter struct {
	homeDomain string
}

// NewMessageAdapter creates an adapter bound to the configured home domain.
func NewMessageAdapter(homeDomain string) *MessageAdapter {
	return &MessageAdapter{homeDomain: homeDomain}
}

// ToInternalFormat converts inbound content to the stored internal text.
// The formatted rendition wins when present; otherwise the raw body is kept.
func (a *MessageAdapter) ToInternalFormat(rawText, formattedText string) string {
	return matrixfmt.ToInternal(rawText, formattedText, a.homeDomain)
}

// ToInternalQuoteFormat wraps inbound content as a quote of another message,
// embedding a reference link to the quoted message ahead of the body.
func (a *MessageAdapter) ToInternalQuoteFormat(quoteLink, rawText, formattedText string) string {
	body := a.ToInternalFormat(rawText, formattedText)
	return "[ ](" + quoteLink + ") " + body
}

// ToExternalFormat renders internal text as outbound protocol content,
// returning the plain body and the HTML rendition (empty when the text has
// no formatting).
func (a *MessageAdapter) ToExternalFormat(text string) (body, htmlText string) {
	rendered := homefmt.ToMatrix(escapeEmojiShortcodes(text), a.homeDomain)
	if !rendered.HasFormatting() {
		return rendered.Body, ""
	}
	return rendered.Body, rendered.FormattedBody
}
