package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterator_Empty_Tree_Begins_At_End(t *testing.T) {
	tree := newTestTree(t, 4, 4, 16)

	it := tree.Begin()
	defer it.Close()
	assert.True(t, it.IsEnd())
	assert.True(t, it.Equals(tree.End()))
}

func TestIterator_Walks_Leaf_Chain_In_Order(t *testing.T) {
	tree := newTestTree(t, 4, 4, 64)

	for _, k := range []int64{5, 3, 8, 1, 4, 9, 2, 7, 6} {
		require.True(t, tree.Insert(k, k*10))
	}

	it := tree.Begin()
	defer it.Close()
	want := int64(1)
	for !it.IsEnd() {
		k, v := it.Item()
		require.Equal(t, want, k)
		require.Equal(t, want*10, v)
		it.Next()
		want++
	}
	assert.Equal(t, int64(10), want)
}

func TestIterator_From_Key_Starts_At_Lower_Bound(t *testing.T) {
	tree := newTestTree(t, 4, 4, 64)

	for k := int64(0); k < 40; k += 2 {
		require.True(t, tree.Insert(k, k))
	}

	// exact hit
	it := tree.BeginFrom(10)
	require.False(t, it.IsEnd())
	assert.Equal(t, int64(10), it.Key())
	it.Close()

	// between keys: the next greater one
	it = tree.BeginFrom(11)
	require.False(t, it.IsEnd())
	assert.Equal(t, int64(12), it.Key())
	it.Close()

	// beyond the maximum
	it = tree.BeginFrom(100)
	assert.True(t, it.IsEnd())
	it.Close()
}

func TestIterator_From_Key_Crosses_Leaf_Boundary(t *testing.T) {
	tree := newTestTree(t, 4, 4, 64)

	for k := int64(1); k <= 20; k++ {
		require.True(t, tree.Insert(k, k))
	}

	// iterate the tail from somewhere in the middle
	it := tree.BeginFrom(15)
	got := make([]int64, 0)
	for !it.IsEnd() {
		got = append(got, it.Key())
		it.Next()
	}
	it.Close()
	assert.Equal(t, []int64{15, 16, 17, 18, 19, 20}, got)
}

func TestIterator_Equality_Is_Position_Based(t *testing.T) {
	tree := newTestTree(t, 4, 4, 64)

	for k := int64(1); k <= 5; k++ {
		require.True(t, tree.Insert(k, k))
	}

	a := tree.Begin()
	b := tree.Begin()
	defer a.Close()
	defer b.Close()

	assert.True(t, a.Equals(b))
	a.Next()
	assert.False(t, a.Equals(b))
	b.Next()
	assert.True(t, a.Equals(b))

	assert.False(t, a.Equals(tree.End()))
}

func TestIterator_Close_Is_Idempotent(t *testing.T) {
	tree := newTestTree(t, 4, 4, 16)
	require.True(t, tree.Insert(1, 1))

	it := tree.Begin()
	it.Close()
	it.Close()
	assert.True(t, it.IsEnd())
}
