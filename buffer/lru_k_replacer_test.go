package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUK_Evicts_Frame_With_Infinite_Distance_First(t *testing.T) {
	r := NewLRUKReplacer(3, 2)

	for _, f := range []int{0, 1, 2, 0, 1} {
		r.RecordAccess(f)
	}
	for f := 0; f < 3; f++ {
		r.SetEvictable(f, true)
	}
	assert.Equal(t, 3, r.Size())

	// only frame 2 has fewer than k accesses, so its distance is infinite
	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 2, victim)
	assert.Equal(t, 2, r.Size())

	// among full histories the larger backward k-distance wins
	victim, ok = r.Evict()
	require.True(t, ok)
	assert.Equal(t, 0, victim)

	victim, ok = r.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, victim)

	_, ok = r.Evict()
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size())
}

func TestLRUK_Ties_Between_Young_Frames_Break_By_Oldest_Access(t *testing.T) {
	r := NewLRUKReplacer(4, 3)

	r.RecordAccess(3)
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(1)
	for f := 1; f <= 3; f++ {
		r.SetEvictable(f, true)
	}

	// every frame is below k accesses; classic LRU on the oldest timestamp
	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 3, victim)

	victim, ok = r.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, victim)
}

func TestLRUK_SetEvictable_Controls_Size_And_Candidates(t *testing.T) {
	r := NewLRUKReplacer(2, 2)

	r.RecordAccess(0)
	r.RecordAccess(1)
	assert.Equal(t, 0, r.Size())

	r.SetEvictable(0, true)
	r.SetEvictable(1, true)
	assert.Equal(t, 2, r.Size())

	r.SetEvictable(0, false)
	assert.Equal(t, 1, r.Size())

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, victim)

	// frame 0 is pinned, nothing left to evict
	_, ok = r.Evict()
	assert.False(t, ok)

	// flipping the same flag twice must not drift the size
	r.SetEvictable(0, false)
	assert.Equal(t, 0, r.Size())
}

func TestLRUK_SetEvictable_On_Untracked_Frame_Is_Silent(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	r.SetEvictable(3, true)
	assert.Equal(t, 0, r.Size())
}

func TestLRUK_Remove_Requires_Evictable(t *testing.T) {
	r := NewLRUKReplacer(2, 2)

	r.RecordAccess(0)
	r.SetEvictable(0, true)
	r.Remove(0)
	assert.Equal(t, 0, r.Size())

	// removing an untracked frame is a no-op
	r.Remove(0)

	r.RecordAccess(1)
	assert.Panics(t, func() { r.Remove(1) })
}

func TestLRUK_Access_Beyond_Pool_Panics(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	assert.Panics(t, func() { r.RecordAccess(2) })
}

func TestLRUK_History_Is_Bounded_To_K(t *testing.T) {
	r := NewLRUKReplacer(2, 2)

	// frame 0 accessed many times early, frame 1 twice late. With k=2 only
	// the last two accesses of frame 0 count, so frame 0 is the younger one.
	for i := 0; i < 10; i++ {
		r.RecordAccess(0)
	}
	r.RecordAccess(1)
	r.RecordAccess(1)
	r.RecordAccess(0)
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, victim)
}
