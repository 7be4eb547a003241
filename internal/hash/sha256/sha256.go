// Package sha256 provides the content digest used for post change detection.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256 over whitespace-collapsed text,
// so reflowed but otherwise identical content hashes the same.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash collapses whitespace runs in data and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	normalized := strings.Join(strings.Fields(string(data)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}
