// Package sha256 digests raw search pages for archive object names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher. A positive Length shortens the hex digest,
// which keeps archive paths readable while staying collision-free per run.
type Hasher struct {
	Length int
}

// New returns a hasher that emits the first length hex characters of the
// digest. length <= 0 or > 64 keeps the full digest.
func New(length int) *Hasher {
	if length <= 0 || length > sha256.Size*2 {
		length = 0
	}
	return &Hasher{Length: length}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h != nil && h.Length > 0 {
		digest = digest[:h.Length]
	}
	return digest, nil
}
