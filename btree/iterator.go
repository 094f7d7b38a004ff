package btree

import (
	"tarn/disk"
	"tarn/disk/pages"
)

// TreeIterator is a forward cursor over the leaf chain. It keeps exactly one
// leaf pinned (not latched) between increments; Close releases it. The end
// iterator holds nothing.
type TreeIterator[K any, V any] struct {
	tree   *BPlusTree[K, V]
	pageID disk.PageID
	index  int
	page   *pages.Page
}

// Begin positions an iterator on the smallest key. An empty tree yields End.
func (t *BPlusTree[K, V]) Begin() *TreeIterator[K, V] {
	leaf, ok := t.searchLeaf(*new(K), true)
	if !ok {
		return t.End()
	}

	n := t.wrap(leaf)
	if n.size() == 0 {
		leaf.RUnLatch()
		t.unpin(leaf, false)
		return t.End()
	}

	leaf.RUnLatch()
	return &TreeIterator[K, V]{tree: t, pageID: leaf.GetPageId(), index: 0, page: leaf}
}

// BeginFrom positions an iterator on the first key >= key.
func (t *BPlusTree[K, V]) BeginFrom(key K) *TreeIterator[K, V] {
	leaf, ok := t.searchLeaf(key, false)
	if !ok {
		return t.End()
	}

	n := t.wrap(leaf)
	idx, _ := n.leafLowerBound(key)
	if idx >= n.size() {
		// Everything here sorts below key; continue on the successor.
		next := n.next()
		leaf.RUnLatch()
		t.unpin(leaf, false)
		if next == disk.InvalidPageID {
			return t.End()
		}
		nextPage := t.fetchPage(next)
		return &TreeIterator[K, V]{tree: t, pageID: next, index: 0, page: nextPage}
	}

	leaf.RUnLatch()
	return &TreeIterator[K, V]{tree: t, pageID: leaf.GetPageId(), index: idx, page: leaf}
}

func (t *BPlusTree[K, V]) End() *TreeIterator[K, V] {
	return &TreeIterator[K, V]{tree: t, pageID: disk.InvalidPageID}
}

func (it *TreeIterator[K, V]) IsEnd() bool {
	if it.pageID == disk.InvalidPageID || it.page == nil {
		return true
	}
	return it.index >= it.tree.wrap(it.page).size()
}

func (it *TreeIterator[K, V]) Key() K {
	return it.tree.wrap(it.page).leafKeyAt(it.index)
}

func (it *TreeIterator[K, V]) Value() V {
	return it.tree.wrap(it.page).leafValAt(it.index)
}

func (it *TreeIterator[K, V]) Item() (K, V) {
	n := it.tree.wrap(it.page)
	return n.leafKeyAt(it.index), n.leafValAt(it.index)
}

// Next advances one slot, following the leaf chain when the current leaf is
// exhausted.
func (it *TreeIterator[K, V]) Next() {
	if it.IsEnd() {
		return
	}

	it.index++
	n := it.tree.wrap(it.page)
	if it.index < n.size() {
		return
	}

	next := n.next()
	it.tree.unpin(it.page, false)
	if next == disk.InvalidPageID {
		it.pageID = disk.InvalidPageID
		it.page = nil
		it.index = 0
		return
	}
	it.pageID = next
	it.page = it.tree.fetchPage(next)
	it.index = 0
}

// Equals reports whether both cursors sit on the same slot.
func (it *TreeIterator[K, V]) Equals(other *TreeIterator[K, V]) bool {
	return it.pageID == other.pageID && it.index == other.index
}

// Close unpins the current leaf. Safe to call on End or twice.
func (it *TreeIterator[K, V]) Close() {
	if it.page != nil {
		it.tree.unpin(it.page, false)
		it.page = nil
		it.pageID = disk.InvalidPageID
		it.index = 0
	}
}
