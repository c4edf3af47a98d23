package channels

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage splits text into chunks of at most maxLen bytes, never
// splitting a multi-byte rune and preferring natural boundaries.
// maxLen <= 0 returns the text as a single chunk.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}

		// Find a good split point within maxLen
		splitAt := findSplitPoint(remaining, maxLen)
		chunk := strings.TrimSpace(remaining[:splitAt])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimSpace(remaining[splitAt:])
	}

	return chunks
}

// findSplitPoint finds the best position to split text, preferring natural boundaries.
func findSplitPoint(text string, maxLen int) int {
	if len(text) <= maxLen {
		return len(text)
	}

	// Back up to a rune boundary so the hard split never cuts a multi-byte
	// character.
	limit := maxLen
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	if limit == 0 {
		limit = maxLen
	}
	searchArea := text[:limit]

	// Try to split at paragraph boundary (double newline)
	if idx := strings.LastIndex(searchArea, "\n\n"); idx > maxLen/2 {
		return idx + 2 // Include the newlines
	}

	// Try to split at single newline
	if idx := strings.LastIndex(searchArea, "\n"); idx > maxLen/2 {
		return idx + 1
	}

	// Try to split at sentence boundary (. ! ?)
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(searchArea, sep); idx > maxLen/2 {
			return idx + len(sep)
		}
	}

	// Try to split at word boundary (space)
	if idx := strings.LastIndex(searchArea, " "); idx > maxLen/2 {
		return idx + 1
	}

	// Fallback: hard split at the rune boundary
	return limit
}

// EffectiveLimit resolves min(configuredLimit, providerHardLimit), treating
// zero as "no limit at that level".
func EffectiveLimit(configured, hard int) int {
	switch {
	case configured <= 0:
		return hard
	case hard <= 0:
		return configured
	case configured < hard:
		return configured
	default:
		return hard
	}
}

// Truncate shortens s to at most maxLen bytes on a rune boundary, appending
// an ellipsis when truncation happened.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
