package btree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarn/disk"
)

// checkSorted walks the leaf chain and verifies strict ascending order.
func checkSorted(t *testing.T, tree *BPlusTree[int64, int64]) []int64 {
	t.Helper()
	got := collectKeys(t, tree)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
	return got
}

func TestRemove_Absent_Key_Is_A_NoOp(t *testing.T) {
	tree := newTestTree(t, 4, 4, 64)

	tree.Remove(5)
	assert.True(t, tree.IsEmpty())

	require.True(t, tree.Insert(1, 1))
	tree.Remove(5)
	tree.Remove(5)
	assert.Equal(t, []int64{1}, tree.GetValue(1))
}

func TestRemove_Underflow_Merges_And_Collapses_Root(t *testing.T) {
	tree := newTestTree(t, 4, 4, 64)

	for _, k := range []int64{5, 3, 8, 1, 4, 9, 2, 7, 6, 10, 11, 12, 13} {
		require.True(t, tree.Insert(k, k))
	}

	for _, k := range []int64{1, 2, 3, 4, 5, 6, 7} {
		tree.Remove(k)
		got := checkSorted(t, tree)
		require.NotContains(t, got, k)
		for _, present := range got {
			require.Equal(t, []int64{present}, tree.GetValue(present))
		}
	}

	for k := int64(8); k <= 13; k++ {
		tree.Remove(k)
	}
	assert.True(t, tree.IsEmpty())
	assert.Equal(t, disk.InvalidPageID, tree.GetRootPageID())
	assert.Equal(t, 0, tree.Count())
}

func TestRemove_Twice_Is_Idempotent(t *testing.T) {
	tree := newTestTree(t, 4, 4, 64)

	require.True(t, tree.Insert(9, 9))
	require.True(t, tree.Insert(4, 4))

	tree.Remove(9)
	assert.Equal(t, []int64{}, tree.GetValue(9))
	tree.Remove(9)
	assert.Equal(t, []int64{4}, tree.GetValue(4))
}

func TestRemove_Random_Order_Empties_The_Tree(t *testing.T) {
	tree := newTestTree(t, 10, 10, 512)

	n := 3000
	rnd := rand.New(rand.NewSource(7))
	for _, k := range rnd.Perm(n) {
		require.True(t, tree.Insert(int64(k), int64(k)))
	}

	order := rnd.Perm(n)
	for i, k := range order {
		tree.Remove(int64(k))
		if i%500 == 499 {
			checkSorted(t, tree)
		}
	}

	assert.True(t, tree.IsEmpty())
	assert.Equal(t, disk.InvalidPageID, tree.GetRootPageID())
}

func TestRemove_Half_Then_Verify_Rest(t *testing.T) {
	tree := newTestTree(t, 6, 6, 256)

	n := int64(1000)
	for k := int64(0); k < n; k++ {
		require.True(t, tree.Insert(k, k*3))
	}

	for k := int64(0); k < n; k += 2 {
		tree.Remove(k)
	}

	for k := int64(0); k < n; k++ {
		want := []int64{}
		if k%2 == 1 {
			want = []int64{k * 3}
		}
		require.Equal(t, want, tree.GetValue(k), "key %v", k)
	}

	got := checkSorted(t, tree)
	assert.Len(t, got, int(n/2))
}

func TestRemove_Then_Reinsert(t *testing.T) {
	tree := newTestTree(t, 4, 4, 128)

	for k := int64(0); k < 200; k++ {
		require.True(t, tree.Insert(k, k))
	}
	for k := int64(50); k < 150; k++ {
		tree.Remove(k)
	}
	for k := int64(50); k < 150; k++ {
		require.True(t, tree.Insert(k, k+1000), "reinsert of %v", k)
	}

	got := checkSorted(t, tree)
	assert.Len(t, got, 200)
	assert.Equal(t, []int64{1050}, tree.GetValue(50))
	assert.Equal(t, []int64{0}, tree.GetValue(0))
}

func TestRemove_Root_Leaf_Until_Empty(t *testing.T) {
	tree := newTestTree(t, 4, 4, 16)

	require.True(t, tree.Insert(1, 1))
	require.True(t, tree.Insert(2, 2))

	tree.Remove(1)
	assert.False(t, tree.IsEmpty())
	tree.Remove(2)
	assert.True(t, tree.IsEmpty())

	// the emptied tree accepts inserts again
	require.True(t, tree.Insert(3, 3))
	assert.Equal(t, []int64{3}, tree.GetValue(3))
}
