package helpers

import (
	"strings"
	"unicode/utf8"
)

// SanitizeUTF8 returns a copy of s that is valid UTF-8 with NULL bytes
// removed. PostgreSQL rejects text values containing either, and message
// headers from the wild routinely carry both.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError || r == 0 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TruncatePreview returns at most max runes of s, appending an ellipsis when
// the text was cut. Used for the body excerpt in moderation notifications.
func TruncatePreview(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
