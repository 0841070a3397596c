package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Key builds a namespaced cache key: prefix:hash(raw).
// Hashing keeps keys filesystem- and Redis-safe regardless of the raw
// identifier contents (URLs, scoped package names, image references).
func Key(prefix, raw string) string {
	return prefix + ":" + Hash([]byte(raw))
}
