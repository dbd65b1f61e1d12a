package tui

import (
	"strings"
	"unicode/utf8"
)

// maxInputLen is the maximum number of runes allowed in a form field.
const maxInputLen = 256

// editRune processes a keystroke for inline text editing.
// Handles backspace (rune-aware) and single printable characters.
// Returns the text unchanged for non-printable keys (enter, esc, etc.).
func editRune(text string, key string) string {
	switch key {
	case "backspace":
		if len(text) > 0 {
			runes := []rune(text)
			return string(runes[:len(runes)-1])
		}
		return text
	case " ":
		return appendRune(text, key)
	default:
		if utf8.RuneCountInString(key) == 1 {
			return appendRune(text, key)
		}
		return text
	}
}

func appendRune(text, key string) string {
	if utf8.RuneCountInString(text) >= maxInputLen {
		return text
	}
	return text + key
}

// mask hides a secret as bullets of the same rune length.
func mask(s string) string {
	return strings.Repeat("•", utf8.RuneCountInString(s))
}
