// Package sha256 derives revision markers from fetched content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements oeis.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Revision computes the revision marker for a record from its raw metadata
// body and optional attachment body. The NUL separator keeps (a+b, c) and
// (a, b+c) splits from colliding.
func (h *Hasher) Revision(metadata, attachment []byte) (string, error) {
	d := sha256.New()
	d.Write(metadata)
	d.Write([]byte{0})
	d.Write(attachment)
	return hex.EncodeToString(d.Sum(nil)), nil
}
