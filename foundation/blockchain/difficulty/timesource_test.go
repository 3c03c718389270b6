package difficulty

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMedianTime(t *testing.T) {
	local := time.Unix(1_700_000_000, 0)

	mt := NewMedianTime()
	mt.now = func() time.Time { return local }

	// Fewer than the minimum samples leave the clock alone.
	for i, id := range []string{"a", "b", "c", "d"} {
		mt.AddSample(id, local.Add(time.Duration(i+1)*time.Minute))
	}
	require.Equal(t, time.Duration(0), mt.Offset())

	// Duplicate sources are ignored.
	mt.AddSample("a", local.Add(time.Hour))
	require.Equal(t, time.Duration(0), mt.Offset())

	mt.AddSample("e", local.Add(5*time.Minute))
	require.Equal(t, 3*time.Minute, mt.Offset())
	require.Equal(t, local.Add(3*time.Minute), mt.Now())
}

func TestMedianTimeIgnoresLargeOffsets(t *testing.T) {
	local := time.Unix(1_700_000_000, 0)

	mt := NewMedianTime()
	mt.now = func() time.Time { return local }

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		mt.AddSample(id, local.Add(2*time.Hour))
	}

	require.Equal(t, time.Duration(0), mt.Offset())
	require.Equal(t, local, mt.Now())
}
