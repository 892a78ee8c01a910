// Package checksum fingerprints stored document bytes and compares the
// fingerprints clients send back as ETags.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag quotes sum for an ETag header.
func ETag(sum string) string {
	return `"` + sum + `"`
}

// Parse strips the quoting and weak prefix of an If-Match value.
func Parse(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.ToLower(strings.Trim(tag, `"`))
}

// Match reports whether tag names sum. An empty tag and "*" match anything.
func Match(tag, sum string) bool {
	tag = Parse(tag)
	return tag == "" || tag == "*" || tag == sum
}
