package difficulty

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"
)

// Ratio is a non-negative fraction used for the retarget clamps.
type Ratio struct {
	Num uint64 `json:"num"`
	Den uint64 `json:"den"`
}

// Cmp compares two ratios without losing precision.
func (r Ratio) Cmp(other Ratio) int {
	// r.Num/r.Den vs other.Num/other.Den -> r.Num*other.Den vs other.Num*r.Den
	aHi, aLo := bits.Mul64(r.Num, other.Den)
	bHi, bLo := bits.Mul64(other.Num, r.Den)

	switch {
	case aHi < bHi, aHi == bHi && aLo < bLo:
		return -1
	case aHi == bHi && aLo == bLo:
		return 0
	}
	return 1
}

// String returns the ratio as num/den.
func (r Ratio) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rules are the difficulty and timestamp parameters of a network.
type Rules struct {
	PowLimit           Target // Easiest allowed target.
	MinTarget          Target // Hardest allowed target.
	RetargetInterval   uint64 // Blocks between adjustments.
	TargetSpacing      uint64 // Seconds between blocks the network aims for.
	MinAdjustment      Ratio
	MaxAdjustment      Ratio
	NoRetargeting      bool
	MedianTimeSpan     int
	MaxFutureBlockTime uint64 // Seconds a block may run ahead of adjusted time.
	MinBlockSpacing    uint64 // Seconds a block must trail its parent, zero disables.
}

// TargetTimespan is the number of seconds a full retarget window should take.
func (r Rules) TargetTimespan() (uint64, error) {
	hi, lo := bits.Mul64(r.RetargetInterval, r.TargetSpacing)
	if hi != 0 {
		return 0, errors.New("target timespan overflows")
	}
	return lo, nil
}

// IsRetargetHeight reports whether a block at height recomputes the target.
func (r Rules) IsRetargetHeight(height uint64) bool {
	if r.NoRetargeting || r.RetargetInterval == 0 || height == 0 {
		return false
	}
	return height%r.RetargetInterval == 0
}

// =============================================================================

// HeaderInfo is the part of a block header the difficulty engine consumes.
type HeaderInfo struct {
	Height    uint64
	TimeStamp uint64
	Bits      uint32
}

// HistoryFunc returns up to n headers ending with the parent of the block
// being evaluated, ordered by ascending height.
type HistoryFunc func(n int) []HeaderInfo

// RetargetRatio returns actual/expected clamped to the adjustment bounds. A
// non-positive actual timespan is clamped to the minimum adjustment.
func RetargetRatio(actual uint64, expected uint64, rules Rules) Ratio {
	ratio := Ratio{Num: actual, Den: expected}

	switch {
	case actual == 0:
		return rules.MinAdjustment
	case ratio.Cmp(rules.MinAdjustment) < 0:
		return rules.MinAdjustment
	case ratio.Cmp(rules.MaxAdjustment) > 0:
		return rules.MaxAdjustment
	}

	return ratio
}

// NextTarget computes the target for the block following the supplied
// window. The window is the last RetargetInterval headers. When less history
// exists the easiest target is returned.
func NextTarget(history []HeaderInfo, rules Rules) (Target, error) {
	n := int(rules.RetargetInterval)
	if n <= 0 || len(history) < n {
		return rules.PowLimit, nil
	}

	window := history[len(history)-n:]
	first, last := window[0], window[n-1]

	prev, err := TargetFromCompact(last.Bits)
	if err != nil {
		return Target{}, fmt.Errorf("decoding bits of height %d: %w", last.Height, err)
	}
	if err := prev.Validate(); err != nil {
		return Target{}, fmt.Errorf("bits of height %d: %w", last.Height, err)
	}

	expected, err := rules.TargetTimespan()
	if err != nil {
		return Target{}, err
	}

	var actual uint64
	if last.TimeStamp > first.TimeStamp {
		actual = last.TimeStamp - first.TimeStamp
	}

	ratio := RetargetRatio(actual, expected, rules)
	if ratio.Den == 0 {
		return Target{}, errors.New("retarget ratio has a zero denominator")
	}

	next := prev.Big()
	next.Mul(next, new(big.Int).SetUint64(ratio.Num))
	next.Quo(next, new(big.Int).SetUint64(ratio.Den))

	return Clamp(TargetFromBig(next), rules), nil
}

// Clamp bounds the target to the network's allowed range.
func Clamp(t Target, rules Rules) Target {
	switch {
	case t.Cmp(rules.PowLimit) > 0:
		return rules.PowLimit
	case t.Cmp(rules.MinTarget) < 0:
		return rules.MinTarget
	}
	return t
}

// RequiredBits returns the bits a block at height must carry. Off the
// retarget boundary a block inherits its parent's bits.
func RequiredBits(height uint64, parent HeaderInfo, history HistoryFunc, rules Rules) (uint32, error) {
	if height == 0 {
		return CompactFromTarget(rules.PowLimit), nil
	}

	if !rules.IsRetargetHeight(height) {
		return parent.Bits, nil
	}

	next, err := NextTarget(history(int(rules.RetargetInterval)), rules)
	if err != nil {
		return 0, err
	}

	return CompactFromTarget(next), nil
}
