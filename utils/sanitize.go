package utils

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// free-text fields are rendered as plain text, so all markup is stripped
var sanitizer = bluemonday.StrictPolicy()

// maxEntityDepth bounds how many layers of entity encoding are decoded before stripping.
const maxEntityDepth = 8

// CleanText strips markup, trims surrounding space and cuts the result to maxRunes runes.
// maxRunes <= 0 disables the cut. Entity-encoded markup is decoded first so it is stripped
// like literal markup. The result is returned decoded only when decoding cannot revive a tag.
func CleanText(input string, maxRunes int) string {
	s := input
	for i := 0; i < maxEntityDepth; i++ {
		decoded := html.UnescapeString(s)
		if decoded == s {
			break
		}
		s = decoded
	}
	s = sanitizer.Sanitize(s)
	if plain := html.UnescapeString(s); sanitizer.Sanitize(plain) == s {
		s = plain
	}
	s = strings.TrimSpace(s)
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxRunes]))
	}
	return s
}
