package httpserver

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID reports whether a path id parameter is well formed: non-empty, at
// most 100 characters, and limited to URL-safe characters. Job and profile
// ids are UUIDs, so anything outside this shape is rejected before hitting
// storage.
func ValidID(id string) bool {
	return id != "" && len(id) <= 100 && validIDPattern.MatchString(id)
}

// SanitizeString strips null bytes, trims whitespace, caps length and forces
// valid UTF-8. Applied to header-sourced inputs like the idempotency key.
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	if len(input) > 1000 {
		input = input[:1000]
	}
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return input
}
