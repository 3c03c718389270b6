// Package difficulty implements the proof of work target arithmetic: the
// compact bits encoding, chain work, retargeting and the block timestamp
// rules. Everything in here is integer arithmetic.
package difficulty

import (
	"errors"
	"math/big"

	"github.com/btpc/node/foundation/blockchain/signature"
)

// TargetSize is the width of a target in bytes. It matches the hash width so
// a block hash can be compared against the target directly.
const TargetSize = signature.HashSize

// Set of errors returned when decoding compact bits.
var (
	ErrCompactOverflow = errors.New("compact exponent exceeds the target width")
	ErrCompactNegative = errors.New("compact mantissa has the sign bit set")
	ErrZeroTarget      = errors.New("target is zero")
)

// maxCompact is the largest value the compact form can express without
// overflowing the target width.
const maxCompact uint32 = TargetSize<<24 | 0x007fffff

// Target is a 512 bit big-endian threshold a block hash must not exceed.
// A lower target means more work.
type Target [TargetSize]byte

// TargetFromCompact expands the compact bits representation. The top byte
// is the number of significant bytes and the low 23 bits are the leading
// bytes of the value. A zero mantissa is the only way to produce an all zero
// target and is returned without error so the caller can reject it with
// ErrZeroTarget through Validate.
func TargetFromCompact(bits uint32) (Target, error) {
	exponent := int(bits >> 24)
	mantissa := bits & 0x007fffff

	if bits&0x00800000 != 0 {
		return Target{}, ErrCompactNegative
	}

	var t Target

	if mantissa == 0 {
		return t, nil
	}

	if exponent <= 3 {
		mantissa >>= 8 * uint(3-exponent)
		t[TargetSize-3] = byte(mantissa >> 16)
		t[TargetSize-2] = byte(mantissa >> 8)
		t[TargetSize-1] = byte(mantissa)
		return t, nil
	}

	if exponent > TargetSize {
		return Target{}, ErrCompactOverflow
	}

	start := TargetSize - exponent
	t[start] = byte(mantissa >> 16)
	t[start+1] = byte(mantissa >> 8)
	t[start+2] = byte(mantissa)

	return t, nil
}

// CompactFromTarget produces the compact bits for the target. Precision
// beyond the three leading bytes is dropped. Targets too large for the
// compact form saturate at the largest encodable value.
func CompactFromTarget(t Target) uint32 {
	i := 0
	for i < TargetSize && t[i] == 0 {
		i++
	}

	if i == TargetSize {
		return 0
	}

	size := TargetSize - i

	var mantissa uint32
	if size <= 3 {
		for j := i; j < TargetSize; j++ {
			mantissa = mantissa<<8 | uint32(t[j])
		}
		mantissa <<= 8 * uint(3-size)
	} else {
		mantissa = uint32(t[i])<<16 | uint32(t[i+1])<<8 | uint32(t[i+2])
	}

	// The sign bit is reserved so move one byte into the exponent.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		size++
	}

	if size > TargetSize {
		return maxCompact
	}

	return uint32(size)<<24 | mantissa
}

// TargetFromBig converts an integer into a target. Negative values become
// zero and values wider than the target saturate to all ones.
func TargetFromBig(v *big.Int) Target {
	var t Target

	switch {
	case v.Sign() <= 0:
		return t
	case v.BitLen() > TargetSize*8:
		for i := range t {
			t[i] = 0xff
		}
		return t
	}

	v.FillBytes(t[:])
	return t
}

// Big returns the target as an integer.
func (t Target) Big() *big.Int {
	return new(big.Int).SetBytes(t[:])
}

// IsZero reports whether the target is all zeros.
func (t Target) IsZero() bool {
	return t == Target{}
}

// Validate rejects the zero target.
func (t Target) Validate() error {
	if t.IsZero() {
		return ErrZeroTarget
	}
	return nil
}

// Cmp compares two targets as integers.
func (t Target) Cmp(other Target) int {
	for i := range t {
		switch {
		case t[i] < other[i]:
			return -1
		case t[i] > other[i]:
			return 1
		}
	}
	return 0
}

// Compact returns the compact bits for the target.
func (t Target) Compact() uint32 {
	return CompactFromTarget(t)
}

// String returns the target in hex.
func (t Target) String() string {
	return signature.Hash(t).String()
}

// =============================================================================

// oneLsh512 is 2^512, the size of the hash space.
var oneLsh512 = new(big.Int).Lsh(big.NewInt(1), TargetSize*8)

// Work returns the expected number of hashes needed to find a block at this
// target: 2^512 / (target + 1).
func (t Target) Work() *big.Int {
	denominator := new(big.Int).Add(t.Big(), big.NewInt(1))
	return new(big.Int).Div(oneLsh512, denominator)
}

// WorkFromCompact returns the work for compact bits. Bits that do not decode
// to a usable target are worth nothing.
func WorkFromCompact(bits uint32) *big.Int {
	t, err := TargetFromCompact(bits)
	if err != nil || t.IsZero() {
		return new(big.Int)
	}
	return t.Work()
}

// CheckProofOfWork reports whether hash satisfies target. The comparison
// runs in constant time.
func CheckProofOfWork(hash signature.Hash, target Target) bool {
	if target.IsZero() {
		return false
	}
	return signature.ConstantTimeLEQ(hash[:], target[:])
}
