// Package crypto provides checksums, identifiers and API key generation.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Checksum is an io.Writer that accumulates the SHA-256 and length of
// everything written to it.
type Checksum struct {
	h hash.Hash
	n int64
}

// NewChecksum returns an empty Checksum.
func NewChecksum() *Checksum {
	return &Checksum{h: sha256.New()}
}

func (c *Checksum) Write(p []byte) (int, error) {
	n, _ := c.h.Write(p)
	c.n += int64(n)
	return n, nil
}

// Hex returns the hex-encoded digest of the bytes written so far.
func (c *Checksum) Hex() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

// Len returns the number of bytes written.
func (c *Checksum) Len() int64 {
	return c.n
}

// ComputeSHA256 returns the hex-encoded SHA-256 of data.
func ComputeSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
