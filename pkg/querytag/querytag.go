// Package querytag implements the query-tag correlation identifier:
// short ids of the form "cdesk_xxxxxxxx" used to join
// client-side events to warehouse-side query history. Every function here is
// pure.
package querytag

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const prefix = "cdesk_"

var pattern = regexp.MustCompile(`^cdesk_[0-9a-f]{8}$`)

// Generate returns a new tag: "cdesk_" followed by the first 8 hex
// characters of a fresh UUIDv4.
func Generate() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:8]
}

// Extract returns the 8-hex suffix of tag, or "" if tag is not well-formed.
func Extract(tag string) string {
	if !IsValid(tag) {
		return ""
	}
	return strings.TrimPrefix(tag, prefix)
}

// IsValid reports whether tag matches the cdesk_xxxxxxxx form.
func IsValid(tag string) bool {
	return pattern.MatchString(tag)
}
