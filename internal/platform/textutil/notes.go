package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips markup and control characters from free text, normalises
// it to NFC and truncates it to maxRunes. A non-positive maxRunes disables truncation.
// Line breaks and tabs survive; other runs of whitespace inside a line are kept as-is.
func SanitizePlainText(raw string, maxRunes int) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	stripped := html.UnescapeString(plainTextPolicy.Sanitize(trimmed))
	normalized := norm.NFC.String(stripped)

	var b strings.Builder
	b.Grow(len(normalized))
	count := 0
	for _, r := range normalized {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if maxRunes > 0 && count >= maxRunes {
			break
		}
		b.WriteRune(r)
		count++
	}
	return strings.TrimSpace(b.String())
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
