package identity

import "strings"

// NormalizeID canonicalizes an opaque identifier (account or profile id).
// Ids are opaque: only surrounding whitespace is removed, case is preserved.
func NormalizeID(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeDisplayName trims and collapses inner whitespace.
func NormalizeDisplayName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
