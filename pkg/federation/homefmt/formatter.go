// Copyright 2024-2026 Aiku AI

// Package homefmt converts internal markdown to Matrix HTML for outbound
// events.
package homefmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Rendered holds the two renditions of an outbound message: the plain body
// and, when the text carries formatting, the HTML formatted body.
type Rendered struct {
	Body          string
	FormattedBody string
}

// HasFormatting reports whether an HTML rendition was produced.
func (r *Rendered) HasFormatting() bool {
	return r.FormattedBody != ""
}

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`(?:^|[^*])_(.+?)_(?:[^*]|$)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	ulRe         = regexp.MustCompile(`(?m)^[-*]\s+(.+)$`)
	olRe         = regexp.MustCompile(`(?m)^\d+\.\s+(.+)$`)
	blockquoteRe = regexp.MustCompile(`(?m)^>\s+(.+)$`)
	mentionRe    = regexp.MustCompile(`@([a-zA-Z0-9._=\-]+(?::[a-zA-Z0-9.\-]+)?)`)
)

// codeBlock holds extracted code block data.
type codeBlock struct {
	lang    string
	content string
}

// ToMatrix converts internal markdown to Matrix message content. Mentions
// of the form @username become matrix.to pills qualified with the home
// domain; already qualified mentions keep their own domain.
func ToMatrix(text, homeDomain string) *Rendered {
	if text == "" {
		return &Rendered{}
	}

	hasFormatting := boldRe.MatchString(text) ||
		italicRe.MatchString(text) ||
		strikeRe.MatchString(text) ||
		codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) ||
		linkRe.MatchString(text) ||
		headingRe.MatchString(text) ||
		blockquoteRe.MatchString(text) ||
		ulRe.MatchString(text) ||
		olRe.MatchString(text) ||
		mentionRe.MatchString(text)

	if !hasFormatting {
		return &Rendered{Body: text}
	}

	// Step 1: extract code blocks into placeholders so nothing inside them
	// is rewritten.
	var codeBlocks []codeBlock
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		idx := len(codeBlocks)
		codeBlocks = append(codeBlocks, codeBlock{lang: parts[1], content: parts[2]})
		return "\x00CODEBLOCK" + strconv.Itoa(idx) + "\x00"
	})

	// Step 2: structural elements line by line.
	lines := strings.Split(processed, "\n")
	var result []string
	var listType string
	var listItems []string

	flushList := func() {
		if len(listItems) == 0 {
			return
		}
		result = append(result, "<"+listType+">"+strings.Join(listItems, "")+"</"+listType+">")
		listItems = nil
		listType = ""
	}

	for _, line := range lines {
		if m := blockquoteRe.FindStringSubmatch(line); len(m) >= 2 {
			flushList()
			result = append(result, "<blockquote>"+html.EscapeString(m[1])+"</blockquote>")
			continue
		}
		if m := headingRe.FindStringSubmatch(line); len(m) >= 3 {
			flushList()
			lvl := strconv.Itoa(min(len(m[1]), 6))
			result = append(result, "<h"+lvl+">"+html.EscapeString(m[2])+"</h"+lvl+">")
			continue
		}
		if m := ulRe.FindStringSubmatch(line); len(m) >= 2 {
			if listType != "ul" {
				flushList()
				listType = "ul"
			}
			listItems = append(listItems, "<li>"+html.EscapeString(m[1])+"</li>")
			continue
		}
		if m := olRe.FindStringSubmatch(line); len(m) >= 2 {
			if listType != "ol" {
				flushList()
				listType = "ol"
			}
			listItems = append(listItems, "<li>"+html.EscapeString(m[1])+"</li>")
			continue
		}
		flushList()
		result = append(result, html.EscapeString(line))
	}
	flushList()

	formatted := strings.Join(result, "\n")

	// Step 3: inline formatting.
	formatted = codeRe.ReplaceAllString(formatted, "<code>$1</code>")
	formatted = boldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = italicRe.ReplaceAllString(formatted, "<em>$1</em>")
	formatted = strikeRe.ReplaceAllString(formatted, "<del>$1</del>")

	// Links, safe schemes only.
	formatted = linkRe.ReplaceAllStringFunc(formatted, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		lower := strings.ToLower(strings.TrimSpace(href))
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return `<a href="` + href + `">` + label + `</a>`
		}
		return label
	})

	// Mention pills.
	formatted = mentionRe.ReplaceAllStringFunc(formatted, func(match string) string {
		username := strings.TrimPrefix(match, "@")
		matrixID := "@" + username
		if !strings.Contains(username, ":") {
			matrixID = "@" + username + ":" + homeDomain
		}
		return `<a href="https://matrix.to/#/` + matrixID + `">` + match + `</a>`
	})

	// Step 4: restore code blocks.
	for i, cb := range codeBlocks {
		placeholder := "\x00CODEBLOCK" + strconv.Itoa(i) + "\x00"
		escaped := html.EscapeString(cb.content)
		var replacement string
		if cb.lang != "" {
			replacement = `<pre><code class="language-` + html.EscapeString(cb.lang) + `">` + escaped + `</code></pre>`
		} else {
			replacement = `<pre><code>` + escaped + `</code></pre>`
		}
		formatted = strings.Replace(formatted, placeholder, replacement, 1)
	}

	// Steps 5-6: paragraphs and line breaks.
	formatted = strings.ReplaceAll(formatted, "\n\n", "</p><p>")
	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")
	if strings.Contains(formatted, "</p><p>") {
		formatted = "<p>" + formatted + "</p>"
	}

	return &Rendered{
		Body:          text,
		FormattedBody: formatted,
	}
}
