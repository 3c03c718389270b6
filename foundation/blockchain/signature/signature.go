// Package signature provides helper functions for handling the blockchain
// hashing and signature needs.
package signature

import (
	"crypto/sha512"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HashSize is the number of bytes in a block or transaction hash.
const HashSize = sha512.Size

// Hash represents a double SHA-512 digest. Block hashes, transaction ids and
// merkle nodes are all values of this type.
type Hash [HashSize]byte

// ZeroHash represents a hash code of zeros.
var ZeroHash Hash

// DoubleSHA512 returns SHA-512(SHA-512(data)).
func DoubleSHA512(data []byte) Hash {
	first := sha512.Sum512(data)
	return sha512.Sum512(first[:])
}

// ParseHash converts a 0x prefixed hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decoding hash: %w", err)
	}

	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash has length %d, exp %d", len(b), HashSize)
	}

	var h Hash
	copy(h[:], b)

	return h, nil
}

// IsZero reports whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// String returns the hash as a 0x prefixed hex string.
func (h Hash) String() string {
	return hexutil.Encode(h[:])
}

// MarshalText implements the encoding.TextMarshaler interface.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (h *Hash) UnmarshalText(data []byte) error {
	v, err := ParseHash(string(data))
	if err != nil {
		return err
	}

	*h = v
	return nil
}
