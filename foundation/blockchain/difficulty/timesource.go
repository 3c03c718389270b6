package difficulty

import (
	"slices"
	"sync"
	"time"
)

// TimeSource provides the network adjusted time used to judge how far in
// the future a block may be.
type TimeSource interface {
	Now() time.Time
}

// TimeFunc adapts a function into a TimeSource.
type TimeFunc func() time.Time

// Now implements TimeSource.
func (f TimeFunc) Now() time.Time {
	return f()
}

// Bounds for the peer time offset.
const (
	maxTimeSamples   = 200
	minTimeSamples   = 5
	maxAllowedOffset = 70 * time.Minute
)

// TimeSampler accepts the clock readings of other nodes.
type TimeSampler interface {
	AddSample(sourceID string, peerTime time.Time)
}

// MedianTime is a TimeSource that adjusts the local clock by the median of
// the offsets reported by peers. Each source contributes one sample. Until
// minTimeSamples sources have reported, Now is the local clock.
type MedianTime struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	offsets []time.Duration
	offset  time.Duration
	now     func() time.Time
}

// NewMedianTime constructs a MedianTime with no samples.
func NewMedianTime() *MedianTime {
	return &MedianTime{
		seen: make(map[string]struct{}),
		now:  time.Now,
	}
}

// AddSample records the time reported by a peer. Repeated samples from the
// same source are ignored.
func (m *MedianTime) AddSample(sourceID string, peerTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[sourceID]; exists {
		return
	}
	m.seen[sourceID] = struct{}{}

	offset := peerTime.Sub(m.now()).Truncate(time.Second)

	if len(m.offsets) == maxTimeSamples {
		m.offsets = m.offsets[1:]
	}
	m.offsets = append(m.offsets, offset)

	if len(m.offsets) < minTimeSamples {
		return
	}

	sorted := slices.Clone(m.offsets)
	slices.Sort(sorted)
	median := sorted[len(sorted)/2]

	if median < -maxAllowedOffset || median > maxAllowedOffset {
		m.offset = 0
		return
	}

	m.offset = median
}

// Offset returns the current adjustment applied to the local clock.
func (m *MedianTime) Offset() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.offset
}

// Now returns the local time adjusted by the median peer offset.
func (m *MedianTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now().Add(m.offset).Truncate(time.Second)
}
