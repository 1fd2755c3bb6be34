// Package ttscache implements the audio cache tiers: a per-view session
// cache and a shared remote cache made of an index and a blob store.
package ttscache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

const keySeparator = "|"

// DeriveKey returns the content-addressed cache key for a line of speech.
// A blank voice normalizes to the empty placeholder.
func DeriveKey(content, lang, voice string) string {
	if strings.TrimSpace(voice) == "" {
		voice = ""
	}
	sum := sha256.Sum256([]byte(content + keySeparator + lang + keySeparator + voice))
	return hex.EncodeToString(sum[:])
}

// ValidKey reports whether s has the shape DeriveKey produces.
func ValidKey(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ContentHash fingerprints audio bytes for integrity checks and ETags.
func ContentHash(audio []byte) string {
	sum := blake3.Sum256(audio)
	return hex.EncodeToString(sum[:])
}
