// Package sha256 fingerprints image payloads for content-addressed media keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// KeyDigestLen is the number of hex characters media keys carry.
const KeyDigestLen = 12

// ErrEmptyPayload is returned for zero-length input.
var ErrEmptyPayload = errors.New("empty payload")

// Fingerprinter returns hex SHA-256 digests cut to a fixed length.
type Fingerprinter struct {
	length int
}

// New returns a Fingerprinter producing length hex characters. A length
// outside 1..64 keeps the full digest.
func New(length int) *Fingerprinter {
	if length <= 0 || length > sha256.Size*2 {
		length = sha256.Size * 2
	}
	return &Fingerprinter{length: length}
}

// Hash implements media.Hasher.
func (f *Fingerprinter) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:f.length], nil
}
