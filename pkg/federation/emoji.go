// Copyright 2024-2026 Aiku AI

package federation

import (
	"fmt"
	"regexp"
	"strings"
)

// fallbackReactionEmoji is stored when an inbound reaction carries an emoji
// the local server does not know.
const fallbackReactionEmoji = "grey_question"

// shortcodeToUnicode covers the emoji most commonly seen in reactions.
// Anything else round-trips as its :name: shortcode.
var shortcodeToUnicode = map[string]string{
	"+1":               "\U0001f44d",
	"-1":               "\U0001f44e",
	"heart":            "❤️",
	"smile":            "\U0001f604",
	"laughing":         "\U0001f606",
	"thumbsup":         "\U0001f44d",
	"thumbsdown":       "\U0001f44e",
	"wave":             "\U0001f44b",
	"clap":             "\U0001f44f",
	"fire":             "\U0001f525",
	"100":              "\U0001f4af",
	"tada":             "\U0001f389",
	"eyes":             "\U0001f440",
	"thinking":         "\U0001f914",
	"white_check_mark": "✅",
	"x":                "❌",
	"warning":          "⚠️",
	"rocket":           "\U0001f680",
	"star":             "⭐",
	"pray":             "\U0001f64f",
	"grey_question":    "❔",
}

var unicodeToShortcode = func() map[string]string {
	m := make(map[string]string, len(shortcodeToUnicode))
	for name, u := range shortcodeToUnicode {
		m[u] = name
	}
	// Prefer canonical names for duplicated codepoints.
	m["\U0001f44d"] = "thumbsup"
	m["\U0001f44e"] = "thumbsdown"
	return m
}()

var shortcodeRe = regexp.MustCompile(`:([a-z0-9_+\-]+):`)

// emojiToReactionKey converts an inbound reaction key (usually a Unicode
// emoji) to the internal shortcode. Unknown keys map to the fallback emoji.
func emojiToReactionKey(key string) string {
	if name, ok := unicodeToShortcode[key]; ok {
		return name
	}
	trimmed := strings.Trim(key, ":")
	if _, ok := shortcodeToUnicode[trimmed]; ok {
		return trimmed
	}
	return fallbackReactionEmoji
}

// reactionKeyToEmoji converts an internal shortcode to the outbound
// protocol key.
func reactionKeyToEmoji(name string) string {
	trimmed := strings.Trim(name, ":")
	if u, ok := shortcodeToUnicode[trimmed]; ok {
		return u
	}
	return fmt.Sprintf(":%s:", trimmed)
}

// escapeEmojiShortcodes replaces :name: shortcodes in outbound text with
// their Unicode equivalents where known.
func escapeEmojiShortcodes(text string) string {
	return shortcodeRe.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.Trim(match, ":")
		if u, ok := shortcodeToUnicode[name]; ok {
			return u
		}
		return match
	})
}
