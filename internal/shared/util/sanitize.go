package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxCommentRunes bounds the user comment forwarded upstream.
const MaxCommentRunes = 2000

// SanitizeComment strips control characters other than newline and tab,
// normalizes line endings and truncates to MaxCommentRunes.
func SanitizeComment(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if unicode.Is(unicode.Cf, r) {
			continue
		}
		if n == MaxCommentRunes {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

// SanitizeMessage flattens an error message to a single line of at most 500 bytes.
func SanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
		for !utf8.ValidString(msg) {
			msg = msg[:len(msg)-1]
		}
	}
	return msg
}
