// Package sha256 computes and verifies the checksums stored alongside checkpoints.
package sha256

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Hasher implements checkpoint.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether data hashes to the hex digest want.
func (h *Hasher) Verify(data []byte, want string) bool {
	got, _ := h.Hash(data)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
