// Copyright 2024-2026 Aiku AI

// Package matrixfmt converts Matrix HTML message content to the internal
// markdown representation stored by the local chat server.
package matrixfmt

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	strongRe     = regexp.MustCompile(`<strong>(.*?)</strong>`)
	bRe          = regexp.MustCompile(`<b>(.*?)</b>`)
	emRe         = regexp.MustCompile(`<em>(.*?)</em>`)
	iRe          = regexp.MustCompile(`<i>(.*?)</i>`)
	delRe        = regexp.MustCompile(`<del>(.*?)</del>`)
	codeRe       = regexp.MustCompile(`<code>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code(?: class="language-([^"]*)")?>(.*?)</code></pre>`)
	mentionRe    = regexp.MustCompile(`<a href="https://matrix\.to/#/(@[^"]+)"[^>]*>(.*?)</a>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h([1-6])>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	mxReplyRe    = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

// ToInternal converts inbound Matrix content to internal markdown. When no
// HTML rendition exists the raw body is returned unchanged. The conversion
// is deterministic: applying it to the same input always yields the same
// stored text, which the edit no-op check depends on.
func ToInternal(rawText, formattedText, homeDomain string) string {
	if formattedText == "" {
		return rawText
	}

	text := formattedText

	// Fallback reply preambles are re-rendered from our own quote format.
	text = mxReplyRe.ReplaceAllString(text, "")

	// Code first, extracted into placeholders so nothing later rewrites the
	// unescaped content.
	var codeSpans []string
	stash := func(rendered string) string {
		codeSpans = append(codeSpans, rendered)
		return "\x00CODE" + strconv.Itoa(len(codeSpans)-1) + "\x00"
	}
	text = preRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := preRe.FindStringSubmatch(match)
		lang, content := parts[1], parts[2]
		return stash("```" + lang + "\n" + unescape(content) + "\n```")
	})
	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeRe.FindStringSubmatch(match)
		return stash("`" + unescape(parts[1]) + "`")
	})

	// Mention pills become internal @username mentions. Same-origin users
	// get the bare localpart; foreign users keep the qualified form.
	text = mentionRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := mentionRe.FindStringSubmatch(match)
		return "@" + mentionUsername(parts[1], homeDomain)
	})

	text = strongRe.ReplaceAllString(text, "**$1**")
	text = bRe.ReplaceAllString(text, "**$1**")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = iRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~~$1~~")

	text = linkRe.ReplaceAllString(text, "[$2]($1)")

	text = headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		level := int(parts[1][0] - '0')
		return strings.Repeat("#", level) + " " + parts[2]
	})

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		lines := strings.Split(strings.TrimSpace(parts[1]), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n")
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for _, item := range items {
			result = append(result, "- "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})
	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for i, item := range items {
			result = append(result, string(rune('1'+i))+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = unescape(text)

	for i, span := range codeSpans {
		text = strings.Replace(text, "\x00CODE"+strconv.Itoa(i)+"\x00", span, 1)
	}

	return strings.TrimSpace(text)
}

// mentionUsername maps a Matrix user id in a mention pill to the internal
// mention form.
func mentionUsername(matrixID, homeDomain string) string {
	trimmed := strings.TrimPrefix(matrixID, "@")
	idx := strings.LastIndex(trimmed, ":")
	if idx < 0 {
		return trimmed
	}
	if trimmed[idx+1:] == homeDomain {
		return trimmed[:idx]
	}
	return trimmed
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}
