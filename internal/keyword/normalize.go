package keyword

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, replaces every rune that is not a letter or a
// digit with a space, and collapses runs of spaces.
func Normalize(text string) string {
	return normalize(text, false)
}

// NormalizeCase is Normalize without lowercasing.
func NormalizeCase(text string) string {
	return normalize(text, true)
}

func normalize(text string, keepCase bool) string {
	var b strings.Builder
	b.Grow(len(text))

	space := false
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		if !keepCase {
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ContainsWord reports whether word occurs in text on word boundaries.
// Both arguments must already be normalized.
func ContainsWord(text, word string) bool {
	if word == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+word+" ")
}

// Contains reports whether word occurs anywhere in text.
// Both arguments must already be normalized.
func Contains(text, word string) bool {
	return word != "" && strings.Contains(text, word)
}
