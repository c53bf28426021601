package textutil

import (
	"strings"
	"unicode/utf8"
)

const clipMarker = "\n...(truncated)...\n"

// ClipText caps s at maxChars runes, keeping the head and tail around a truncation marker.
// The result never exceeds maxChars runes.
func ClipText(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	markerLen := utf8.RuneCountInString(clipMarker)
	if maxChars <= markerLen+2 {
		return string(runes[:maxChars])
	}
	keep := maxChars - markerLen
	head := keep - keep/2
	tail := keep / 2
	return string(runes[:head]) + clipMarker + string(runes[len(runes)-tail:])
}

// Truncate keeps the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// EstimateTokens approximates the token count of text at four characters per token.
func EstimateTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return utf8.RuneCountInString(text)/4 + 1
}
