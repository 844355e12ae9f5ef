// Package ledger implements the credential ledger core: content fingerprints,
// signed assertions, chain-linked blocks and the credential validity check.
//
// Nothing in this package performs I/O. Persistence, key custody and the
// command-line surface live in sibling packages.
package ledger

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// HashSize is the byte length of a Hash.
const HashSize = sha512.Size

var (
	ErrHashLength = errors.New("ledger: hash must be 64 bytes")
	ErrKeyLength  = errors.New("ledger: verification key must be 32 bytes")
)

// Hash is a 64-byte digest or signature. It is hex-encoded at every boundary.
type Hash [HashSize]byte

// ZeroHash links the first block of a chain.
var ZeroHash Hash

// ParseHash decodes a 128-character hex string. Any other decoded length is
// rejected.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: got %d", ErrHashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// digest writes length-prefixed fields into a SHA-512 state.
type digest struct {
	h hash.Hash
}

func newDigest() *digest {
	return &digest{h: sha512.New()}
}

func (d *digest) field(b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	d.h.Write(n[:])
	d.h.Write(b)
}

func (d *digest) str(s string) {
	d.field([]byte(s))
}

func (d *digest) flag(v bool) {
	if v {
		d.h.Write([]byte{1})
		return
	}
	d.h.Write([]byte{0})
}

func (d *digest) sum() Hash {
	var out Hash
	copy(out[:], d.h.Sum(nil))
	return out
}
