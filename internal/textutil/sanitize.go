package textutil

import (
	"strings"
	"unicode"
)

const maxCleanNameRunes = 80

// CleanFileName turns an episode title into a lowercase filename fragment.
// Characters other than letters, digits, underscores, whitespace, and hyphens
// are dropped, whitespace runs collapse to a single hyphen, and the result is
// cut to 80 runes.
func CleanFileName(title string) string {
	var kept strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || unicode.IsSpace(r) {
			kept.WriteRune(r)
		}
	}
	fields := strings.Fields(kept.String())
	joined := []rune(strings.Join(fields, "-"))
	if len(joined) > maxCleanNameRunes {
		joined = joined[:maxCleanNameRunes]
	}
	return strings.ToLower(string(joined))
}

// SanitizeToken converts a string to a lowercase filesystem-safe token.
// Letters are lowercased, digits and hyphens/underscores are kept, everything
// else becomes an underscore. Returns "unknown" for empty input.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}

// Truncate returns at most limit runes of value. A limit <= 0 returns value unchanged.
func Truncate(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

// TruncateWithEllipsis cuts value to limit runes and appends "..." when it was longer.
func TruncateWithEllipsis(value string, limit int) string {
	cut := Truncate(value, limit)
	if cut == value {
		return value
	}
	return cut + "..."
}

// LeadingWords returns up to n lowercase whitespace-separated words of value.
func LeadingWords(value string, n int) []string {
	fields := strings.Fields(strings.ToLower(value))
	if len(fields) > n {
		fields = fields[:n]
	}
	return fields
}
