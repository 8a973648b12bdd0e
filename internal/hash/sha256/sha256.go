// Package sha256 derives content digests used as cache keys.
package sha256

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Hasher digests ordered string parts with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Digest returns the hex digest of parts. Each part is length-prefixed so
// {"ab","c"} and {"a","bc"} hash differently.
func (h *Hasher) Digest(parts ...string) string {
	sum := sha256.New()
	var size [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		sum.Write(size[:])
		sum.Write([]byte(p))
	}
	return hex.EncodeToString(sum.Sum(nil))
}
