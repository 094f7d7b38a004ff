package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_Sweeps_Reference_Bits_Before_Evicting(t *testing.T) {
	r := NewClockReplacer(3)

	for f := 0; f < 3; f++ {
		r.RecordAccess(f)
		r.SetEvictable(f, true)
	}
	assert.Equal(t, 3, r.Size())

	// the first sweep clears every reference bit, then frame 0 goes first
	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 0, victim)

	// re-reference frame 1 so the hand passes it once more
	r.RecordAccess(1)
	victim, ok = r.Evict()
	require.True(t, ok)
	assert.Equal(t, 2, victim)

	victim, ok = r.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, victim)

	_, ok = r.Evict()
	assert.False(t, ok)
}

func TestClock_Pinned_Frames_Are_Skipped(t *testing.T) {
	r := NewClockReplacer(2)

	r.RecordAccess(0)
	r.RecordAccess(1)
	r.SetEvictable(0, false)
	r.SetEvictable(1, true)
	assert.Equal(t, 1, r.Size())

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, victim)

	_, ok = r.Evict()
	assert.False(t, ok)
}

func TestClock_Remove_Requires_Evictable(t *testing.T) {
	r := NewClockReplacer(2)

	r.RecordAccess(0)
	assert.Panics(t, func() { r.Remove(0) })

	r.SetEvictable(0, true)
	r.Remove(0)
	assert.Equal(t, 0, r.Size())
}
