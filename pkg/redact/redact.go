// Package redact masks sensitive lines in raw device output before it
// enters the log pipeline or a JobResult's details. It is a pure
// function: no state, no I/O.
package redact

import (
	"strings"
)

// Marker replaces any line that matches a configured pattern.
const Marker = "[REDACTED]"

// DefaultPatterns are applied whenever a caller configures none.
func DefaultPatterns() []string {
	return []string{"password", "secret", "community"}
}

// Redact replaces every line of text that contains one of patterns
// (case-insensitive substring match) with Marker, preserving line count.
// Config text destined for the Config Store is never passed through
// Redact — the store holds raw configs, not log output.
func Redact(text string, patterns []string) string {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	lower := make([]string, len(patterns))
	for i, p := range patterns {
		lower[i] = strings.ToLower(p)
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if containsAny(strings.ToLower(line), lower) {
			lines[i] = Marker
		}
	}
	return strings.Join(lines, "\n")
}

func containsAny(lower string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
