package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashContent computes the SHA-256 of content as a hex string. Returns an
// empty string for empty content.
func HashContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the scope fingerprint for a topic. Case and runs of
// whitespace do not change the fingerprint.
func Fingerprint(topic string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(topic)), " ")
	return HashContent([]byte(normalized))
}
