// Package keyspace validates user-supplied identifiers and derives the store keys built from them.
package keyspace

import "strings"

// Separator structures derived store keys and is reserved inside key fields.
const Separator = ":"

const (
	userPrefix       = "user"
	accountKeySuffix = "key"
	documentSegment  = "document"
)

// IsValidField reports whether a free-text value (secret, progress, device) is acceptable.
func IsValidField(value string) bool {
	return value != ""
}

// IsValidKeyField reports whether a value may be embedded in a derived key.
func IsValidKeyField(value string) bool {
	return value != "" && !strings.Contains(value, Separator)
}

// AccountKey returns the key holding the secret for username.
func AccountKey(username string) string {
	return userPrefix + Separator + username + Separator + accountKeySuffix
}

// ProgressKey returns the key of the progress hash for one user's document.
func ProgressKey(username, document string) string {
	return userPrefix + Separator + username + Separator + documentSegment + Separator + document
}
