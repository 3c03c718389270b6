package signature

import "crypto/subtle"

// ConstantTimeLEQ reports whether a <= b when both are read as big-endian
// unsigned integers. Every byte is visited no matter where the first
// difference sits. Slices of different length are never comparable and
// report false; length is not treated as a secret.
func ConstantTimeLEQ(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	var gt, lt int32
	for i := range a {
		x, y := int32(a[i]), int32(b[i])

		// Only the first differing byte may set a flag.
		undecided := 1 ^ (gt | lt)
		gt |= undecided & (((y - x) >> 31) & 1)
		lt |= undecided & (((x - y) >> 31) & 1)
	}

	return gt == 0
}

// EqualBytes compares two byte slices in constant time.
func EqualBytes(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
