// Package sanitize provides identifier sanitization for collection names.
//
// Collection ids double as vector-store collection names, which must match
// ^[a-z0-9_]{1,64}$. Identifier guarantees that shape.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length for a collection id.
	MaxIdentifierLength = 64

	// hashSuffixLength is "_" plus an 8-char hash.
	hashSuffixLength = 9
)

// Identifier sanitizes a collection name into its stable id.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with a hash suffix if too long
//
// Returns "" for input that sanitizes to nothing; callers treat that as a
// validation failure rather than substituting a default.
//
// Examples:
//
//	"My Docs"          -> "my_docs"
//	"docs.example.com" -> "docs_example_com"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSep := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			// Runs of invalid characters and underscores collapse to
			// one separator, and never lead the id.
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}

	id := b.String()
	if len(id) > MaxIdentifierLength {
		id = truncateWithHash(id)
	}
	return id
}

// truncateWithHash truncates to MaxIdentifierLength, appending a short hash
// of the full input to preserve uniqueness.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	truncated := s[:MaxIdentifierLength-hashSuffixLength]
	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}
