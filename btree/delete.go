package btree

import (
	"go.uber.org/zap"

	"tarn/disk"
	"tarn/disk/pages"
)

// Remove deletes key from the index; absent keys are a no-op.
func (t *BPlusTree[K, V]) Remove(key K) {
	set := &pageSet[K, V]{t: t}
	t.rootLatch.Lock()
	set.rootHeld = true

	if t.rootID == disk.InvalidPageID {
		set.releaseAll(false)
		return
	}

	leafPage := t.descend(key, false, opDelete, set)
	n := t.wrap(leafPage)

	idx, found := n.leafLowerBound(key)
	if !found {
		set.releaseAll(false)
		return
	}
	n.leafRemoveAt(idx)

	if n.isRoot() {
		if n.size() == 0 {
			old := t.rootID
			t.rootID = disk.InvalidPageID
			t.updateRootRecord()
			set.releaseAll(true)
			t.pool.DeletePage(old)
			t.lgr.Debug("tree emptied", zap.String("index", t.name))
			return
		}
		set.releaseAll(true)
		return
	}

	if n.size() < n.minSize() {
		leaf := set.pop()
		t.coalesceOrRedistribute(set, leaf)
		t.adjustRoot(set)
	}
	set.releaseAll(true)
}

// coalesceOrRedistribute restores the minimum size invariant of node, which
// the caller owns write latched and pinned. It prefers borrowing one item
// from a sibling and merges into the left of the pair otherwise, recursing
// upward when the parent underflows in turn. The node's latch and pin are
// always released before returning.
func (t *BPlusTree[K, V]) coalesceOrRedistribute(set *pageSet[K, V], nodePage *pages.Page) {
	n := t.wrap(nodePage)
	if n.isRoot() {
		// Root under-min is legal; a possible collapse is handled by
		// adjustRoot once all merges settled.
		nodePage.WUnlatch()
		t.unpin(nodePage, true)
		return
	}

	parentID := n.parent()
	parent := set.pageByID(parentID)
	fromSet := parent != nil
	if !fromSet {
		parent = t.fetchPage(parentID)
		parent.WLatch()
	}
	releaseParent := func(dirty bool) {
		if !fromSet {
			parent.WUnlatch()
			t.unpin(parent, dirty)
		}
	}
	pn := t.wrap(parent)

	idx := pn.childIndexOf(nodePage.GetPageId())
	if idx < 0 {
		// The parent pointer was a stale hint; nothing safe to do here.
		releaseParent(false)
		nodePage.WUnlatch()
		t.unpin(nodePage, true)
		return
	}

	// Prefer the left sibling; fall back to the right one.
	sibIdx := idx + 1
	if idx > 0 {
		sibIdx = idx - 1
	}
	if sibIdx >= pn.size() {
		releaseParent(false)
		nodePage.WUnlatch()
		t.unpin(nodePage, true)
		return
	}

	sibID := pn.childAt(sibIdx)
	sibling := t.fetchPage(sibID)

	// Sibling latches are taken in ascending page id order; when the sibling
	// sorts first the node's own latch is dropped and re-taken after it.
	if sibID < nodePage.GetPageId() {
		nodePage.WUnlatch()
		sibling.WLatch()
		nodePage.WLatch()

		// While the node was unlatched a hand-off insert may have refilled
		// it; re-check before rebalancing.
		if n.size() >= n.minSize() {
			sibling.WUnlatch()
			t.unpin(sibling, false)
			releaseParent(false)
			nodePage.WUnlatch()
			t.unpin(nodePage, true)
			return
		}
	} else {
		sibling.WLatch()
	}
	sn := t.wrap(sibling)

	if sn.size() > sn.minSize() {
		if sibIdx < idx {
			t.redistributeFromLeft(pn, sn, n, idx)
		} else {
			t.redistributeFromRight(pn, sn, n, idx)
		}
		sibling.WUnlatch()
		t.unpin(sibling, true)
		nodePage.WUnlatch()
		t.unpin(nodePage, true)
		releaseParent(true)
		return
	}

	// Merge into the left of the pair and drop the separator.
	var survivorPage, victimPage *pages.Page
	var sepIdx int
	if sibIdx < idx {
		survivorPage, victimPage, sepIdx = sibling, nodePage, idx
	} else {
		survivorPage, victimPage, sepIdx = nodePage, sibling, idx+1
	}
	t.mergeNodes(pn, t.wrap(survivorPage), t.wrap(victimPage), sepIdx)

	victimID := victimPage.GetPageId()
	survivorID := survivorPage.GetPageId()
	victimPage.WUnlatch()
	t.unpin(victimPage, true)
	survivorPage.WUnlatch()
	t.unpin(survivorPage, true)
	t.pool.DeletePage(victimID)
	t.lgr.Debug("nodes merged",
		zap.Int32("survivor", int32(survivorID)), zap.Int32("freed", int32(victimID)))

	if !pn.isRoot() && pn.size() < pn.minSize() {
		if fromSet {
			set.removeByID(parentID)
		}
		t.coalesceOrRedistribute(set, parent)
		return
	}
	releaseParent(true)
}

// redistributeFromLeft moves the left sibling's last item in front of node
// and refreshes the separator at idx (node's slot in parent).
func (t *BPlusTree[K, V]) redistributeFromLeft(parent, sibling, n node[K, V], idx int) {
	last := sibling.size() - 1
	if n.isLeaf() {
		n.leafInsertAt(0, sibling.leafKeyAt(last), sibling.leafValAt(last))
		sibling.incSize(-1)
		parent.setInternalKeyAt(idx, n.leafKeyAt(0))
		return
	}

	// Rotate through the parent: the old separator becomes the key of the
	// previous first child, the moved subtree's key becomes the separator.
	movedChild := sibling.childAt(last)
	movedKey := sibling.internalKeyAt(last)
	sibling.incSize(-1)

	ss := n.internalSlotSize()
	start := nodeHeaderSize
	end := nodeHeaderSize + n.size()*ss
	copy(n.data()[start+ss:end+ss], n.data()[start:end])
	n.incSize(1)
	n.setChildAt(0, movedChild)
	n.setInternalKeyAt(1, parent.internalKeyAt(idx))
	parent.setInternalKeyAt(idx, movedKey)

	t.reparent(movedChild, n.pageID())
}

// redistributeFromRight moves the right sibling's first item to the end of
// node and refreshes the separator at idx+1 (the sibling's slot in parent).
func (t *BPlusTree[K, V]) redistributeFromRight(parent, sibling, n node[K, V], idx int) {
	if n.isLeaf() {
		n.setLeafAt(n.size(), sibling.leafKeyAt(0), sibling.leafValAt(0))
		n.incSize(1)
		sibling.leafRemoveAt(0)
		parent.setInternalKeyAt(idx+1, sibling.leafKeyAt(0))
		return
	}

	movedChild := sibling.childAt(0)
	n.setInternalKeyAt(n.size(), parent.internalKeyAt(idx+1))
	n.setChildAt(n.size(), movedChild)
	n.incSize(1)
	parent.setInternalKeyAt(idx+1, sibling.internalKeyAt(1))
	sibling.internalRemoveAt(0)

	t.reparent(movedChild, n.pageID())
}

// mergeNodes concatenates victim into survivor (its right neighbour) and
// removes the separator entry at sepIdx from the parent.
func (t *BPlusTree[K, V]) mergeNodes(parent, survivor, victim node[K, V], sepIdx int) {
	if survivor.isLeaf() {
		survivor.appendLeafFrom(victim)
		survivor.setNext(victim.next())
		parent.internalRemoveAt(sepIdx)
		return
	}

	// The separator key comes down as the key of victim's first child.
	first := survivor.size()
	ss := survivor.internalSlotSize()
	dstStart := nodeHeaderSize + first*ss
	copy(survivor.data()[dstStart:], victim.data()[nodeHeaderSize:nodeHeaderSize+victim.size()*ss])
	survivor.setInternalKeyAt(first, parent.internalKeyAt(sepIdx))
	survivor.incSize(victim.size())
	parent.internalRemoveAt(sepIdx)

	for i := first; i < survivor.size(); i++ {
		t.reparent(survivor.childAt(i), survivor.pageID())
	}
}

// reparent rewrites a child's parent pointer. Parent ids are hints read only
// under the child's latch after re-validation, so the write itself happens
// unlatched, the way split propagation does it.
func (t *BPlusTree[K, V]) reparent(child, parent disk.PageID) {
	p := t.fetchPage(child)
	t.wrap(p).setParent(parent)
	t.unpin(p, true)
}

// adjustRoot inspects the root after a delete settled: an internal root left
// with a single child is replaced by it, an empty leaf root empties the
// tree. Only runs while this operation still holds the root latch; if the
// latch was released on the way down the root was safe and cannot have
// collapsed.
func (t *BPlusTree[K, V]) adjustRoot(set *pageSet[K, V]) {
	if !set.rootHeld || t.rootID == disk.InvalidPageID {
		return
	}

	rootPage := set.removeByID(t.rootID)
	if rootPage == nil {
		rootPage = t.fetchPage(t.rootID)
		rootPage.WLatch()
	}
	rn := t.wrap(rootPage)

	switch {
	case !rn.isLeaf() && rn.size() == 1:
		childID := rn.childAt(0)
		child := t.fetchPage(childID)
		child.WLatch()
		t.wrap(child).setParent(disk.InvalidPageID)
		child.WUnlatch()
		t.unpin(child, true)

		old := t.rootID
		t.rootID = childID
		t.updateRootRecord()
		rootPage.WUnlatch()
		t.unpin(rootPage, true)
		t.pool.DeletePage(old)
		t.lgr.Debug("root collapsed", zap.String("index", t.name), zap.Int32("root", int32(childID)))

	case rn.isLeaf() && rn.size() == 0:
		old := t.rootID
		t.rootID = disk.InvalidPageID
		t.updateRootRecord()
		rootPage.WUnlatch()
		t.unpin(rootPage, true)
		t.pool.DeletePage(old)
		t.lgr.Debug("tree emptied", zap.String("index", t.name))

	default:
		rootPage.WUnlatch()
		t.unpin(rootPage, true)
	}
}
