// Package checksum computes stable content digests for template files.
// Digest equality is the only signal the reconciliation engine uses to
// decide whether content has changed, so the digest must be
// collision-resistant: SHA-256, hex encoded.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is a lowercase hex-encoded SHA-256 digest of raw content.
type Digest string

// String returns the string representation of the digest.
func (d Digest) String() string {
	return string(d)
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == ""
}

// Sum computes the SHA-256 digest of data. It is deterministic and pure;
// hashing well-formed byte input cannot fail.
func Sum(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest(hex.EncodeToString(sum[:]))
}
