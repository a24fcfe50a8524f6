// Package sanitization redacts secrets from notification bodies
// before they leave the process, so a rule's title/body never leaks a
// credential that ended up embedded in a detail field or error
// message.
package sanitization

import (
	"fmt"
	"regexp"
	"strings"
)

// secretPattern pairs a detection regex with its replacement.
type secretPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer redacts well-known secret shapes from notification text.
// SanitizeWithFallback is the primary entry point: if the regex-based
// pass panics, it recovers and falls back to SafeFallback's simpler,
// panic-free string matching so a notification is never lost because
// its own sanitizer broke.
type Sanitizer struct {
	patterns []secretPattern
}

// NewSanitizer builds a Sanitizer with the default secret patterns:
// password/token/api_key/secret assignments in common delimiter
// styles.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: []secretPattern{
			{regexp.MustCompile(`(?i)(password)\s*[:=]\s*['"]?([^\s'",}]+)['"]?`), "$1: ***REDACTED***"},
			{regexp.MustCompile(`(?i)(api[_-]?key)\s*[:=]\s*['"]?([^\s'",}]+)['"]?`), "$1: ***REDACTED***"},
			{regexp.MustCompile(`(?i)(token)\s*[:=]\s*['"]?([^\s'",}]+)['"]?`), "$1: ***REDACTED***"},
			{regexp.MustCompile(`(?i)(secret)\s*[:=]\s*['"]?([^\s'",}]+)['"]?`), "$1: ***REDACTED***"},
			{regexp.MustCompile(`(?i)(authorization)\s*:\s*bearer\s+[^\s'",}]+`), "$1: Bearer ***REDACTED***"},
		},
	}
}

// SanitizeWithFallback runs the regex-based patterns against content
// and recovers to SafeFallback if any pattern panics (e.g. a
// pathological match against attacker-controlled input). A non-nil
// error means the fallback path was used; the returned text is still
// safe to deliver either way.
func (s *Sanitizer) SanitizeWithFallback(content string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = s.SafeFallback(content)
			err = fmt.Errorf("sanitizer recovered from panic, used fallback redaction: %v", r)
		}
	}()

	if content == "" {
		return "", nil
	}

	sanitized := content
	for _, p := range s.patterns {
		sanitized = p.pattern.ReplaceAllString(sanitized, p.replacement)
	}
	return sanitized, nil
}

// safeFallbackKeys are the secret-like field names SafeFallback
// recognises without any regex engine.
var safeFallbackKeys = []string{"password", "token", "api_key", "apikey", "secret"}

// SafeFallback redacts secrets using plain substring scanning instead
// of a regex engine, so it cannot itself panic on pathological input.
// It trades precision for robustness: once it finds one of
// safeFallbackKeys followed by a delimiter, it redacts the token up to
// the next whitespace or common terminator.
func (s *Sanitizer) SafeFallback(content string) string {
	if content == "" {
		return content
	}

	lower := strings.ToLower(content)
	var b strings.Builder
	i := 0
	for i < len(content) {
		matched := false
		for _, key := range safeFallbackKeys {
			if !strings.HasPrefix(lower[i:], key) {
				continue
			}
			after := i + len(key)
			rest := content[after:]
			trimmed := strings.TrimLeft(rest, " \t")
			if !strings.HasPrefix(trimmed, ":") {
				continue
			}
			skipped := len(rest) - len(trimmed)
			valueStart := after + skipped + 1
			valueStart += countLeading(content[valueStart:], " \t'\"")

			end := valueStart
			for end < len(content) && !isTerminator(content[end]) {
				end++
			}

			b.WriteString(content[i:after])
			b.WriteString(": [REDACTED]")
			i = end
			if i < len(content) && (content[i] == '\'' || content[i] == '"') {
				i++
			}
			matched = true
			break
		}
		if matched {
			continue
		}
		b.WriteByte(content[i])
		i++
	}
	return b.String()
}

func countLeading(s, chars string) int {
	n := 0
	for n < len(s) && strings.ContainsRune(chars, rune(s[n])) {
		n++
	}
	return n
}

func isTerminator(c byte) bool {
	switch c {
	case ' ', '\t', '\n', ',', '}', '\'', '"':
		return true
	default:
		return false
	}
}
