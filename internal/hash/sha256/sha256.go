// Package sha256 digests snapshot payloads so consumers can verify what they
// downloaded.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/antonlok/aggregator-threadpool/internal/news"
)

// Hasher implements news.Hasher using SHA-256.
type Hasher struct{}

var _ news.Hasher = (*Hasher)(nil)

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data, prefixed with the algorithm name.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
