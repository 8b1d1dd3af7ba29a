package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashCode returns the SHA-256 hex digest of a one-time code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// CodeMatches reports whether code hashes to the stored digest.
func CodeMatches(code, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(digest)) == 1
}
