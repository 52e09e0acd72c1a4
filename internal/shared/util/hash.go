package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short, stable hex identifier for the given content.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// HashString returns the full sha256 hex digest of s.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
