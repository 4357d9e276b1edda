package email

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const DefaultPreviewLength = 280

// HtmlToText strips all markup and collapses whitespace
func HtmlToText(body string) string {
	p := bluemonday.StrictPolicy()
	clean := html.UnescapeString(p.Sanitize(body))
	return strings.Join(strings.Fields(clean), " ")
}

// Preview returns a sanitized plain text preview of at most maxRunes runes.
// Text body is preferred, html body is used when text is empty.
func Preview(text, htmlBody string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultPreviewLength
	}
	// text bodies can carry markup too
	preview := HtmlToText(text)
	if preview == "" {
		preview = HtmlToText(htmlBody)
	}
	if utf8.RuneCountInString(preview) <= maxRunes {
		return preview
	}
	runes := []rune(preview)
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}
