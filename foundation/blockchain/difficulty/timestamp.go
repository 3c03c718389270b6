package difficulty

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Set of errors returned by ValidateTimestamp.
var (
	ErrTimeTooOld         = errors.New("timestamp is not after the median time past")
	ErrTimeTooFarInFuture = errors.New("timestamp is too far in the future")
	ErrBlockTooSoon       = errors.New("timestamp is too close to the parent block")
)

// MedianTimePast returns the median of the timestamps. The slice is not
// modified. An empty slice has a median of zero.
func MedianTimePast(timestamps []uint64) uint64 {
	if len(timestamps) == 0 {
		return 0
	}

	sorted := slices.Clone(timestamps)
	slices.Sort(sorted)

	return sorted[len(sorted)/2]
}

// ValidateTimestamp checks a candidate block time against the recent chain
// timestamps, ordered by ascending height and ending with the parent. The
// candidate must be strictly greater than the median of the last
// MedianTimeSpan of them and no later than adjustedNow plus the allowed
// future drift.
func ValidateTimestamp(candidate uint64, recent []uint64, adjustedNow uint64, rules Rules) error {
	if span := rules.MedianTimeSpan; span > 0 && len(recent) > span {
		recent = recent[len(recent)-span:]
	}

	if len(recent) > 0 {
		mtp := MedianTimePast(recent)
		if candidate <= mtp {
			return fmt.Errorf("%w: got %d, median %d", ErrTimeTooOld, candidate, mtp)
		}
	}

	limit := adjustedNow + rules.MaxFutureBlockTime
	if limit < adjustedNow {
		limit = math.MaxUint64
	}
	if candidate > limit {
		return fmt.Errorf("%w: got %d, limit %d", ErrTimeTooFarInFuture, candidate, limit)
	}

	if rules.MinBlockSpacing > 0 && len(recent) > 0 {
		parent := recent[len(recent)-1]
		if candidate < parent || candidate-parent < rules.MinBlockSpacing {
			return fmt.Errorf("%w: parent %d, got %d, spacing %d", ErrBlockTooSoon, parent, candidate, rules.MinBlockSpacing)
		}
	}

	return nil
}
