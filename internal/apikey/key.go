// Package apikey owns client credential material and the request gatekeeper:
// secret generation and hashing, the persisted key store, and the validator
// that every chat request passes before it may consume backend capacity.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// secretPrefix marks gateway-issued keys so misdirected vendor keys are easy
// to spot in support logs (by prefix only, never by value).
const secretPrefix = "pg-"

// prefixLen is how many leading characters of the secret are kept for
// display. Enough to tell keys apart, far too short to recover one.
const prefixLen = 11

// GenerateSecret creates a new key secret: "pg-" + 48 hex chars.
// The plaintext is returned exactly once, at creation; only its hash is
// stored.
func GenerateSecret() string {
	b := make([]byte, 24)
	rand.Read(b)
	return secretPrefix + hex.EncodeToString(b)
}

// HashSecret returns the hex SHA-256 of the secret. Lookup is by hash only.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the short prefix retained for identifying a key in
// listings.
func DisplayPrefix(secret string) string {
	if len(secret) < prefixLen {
		return secret
	}
	return secret[:prefixLen]
}
