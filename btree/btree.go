package btree

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tarn/buffer"
	"tarn/disk"
	"tarn/disk/pages"
)

type opMode int

const (
	opSearch opMode = iota
	opInsert
	opDelete
)

// BPlusTree is a concurrent ordered index over unique keys, stored in buffer
// managed pages. Concurrency control is latch crabbing: descents latch the
// child before deciding whether the ancestors can be released, and a tree
// wide root latch guards the root page id, participating in the crab as the
// outermost hold.
type BPlusTree[K any, V any] struct {
	name            string
	pool            buffer.Pool
	cmp             Comparator[K]
	keyCodec        KeyCodec[K]
	valCodec        ValCodec[V]
	keySize         int
	valSize         int
	leafMaxSize     int
	internalMaxSize int

	// rootID is read and written only under rootLatch.
	rootID    disk.PageID
	rootLatch sync.RWMutex

	lgr *zap.Logger
}

// NewBPlusTree opens (or registers) the named index. Passing zero for a max
// size derives the largest fanout the page can hold. The root page id is
// recovered from the header page when the index was seen before.
func NewBPlusTree[K any, V any](
	name string,
	pool buffer.Pool,
	cmp Comparator[K],
	keyCodec KeyCodec[K],
	valCodec ValCodec[V],
	leafMaxSize, internalMaxSize int,
	lgr *zap.Logger,
) (*BPlusTree[K, V], error) {
	if lgr == nil {
		lgr = zap.NewNop()
	}

	ks, vs := keyCodec.Size(), valCodec.Size()
	if leafMaxSize == 0 {
		leafMaxSize = (disk.PageSize - nodeHeaderSize) / (ks + vs)
	}
	if internalMaxSize == 0 {
		// one spare slot: an internal node holds max+1 children for the
		// moment between inserting and splitting
		internalMaxSize = (disk.PageSize-nodeHeaderSize)/(ks+childPtrSize) - 1
	}
	if nodeHeaderSize+leafMaxSize*(ks+vs) > disk.PageSize {
		return nil, fmt.Errorf("leaf fanout %v does not fit a page", leafMaxSize)
	}
	if nodeHeaderSize+(internalMaxSize+1)*(ks+childPtrSize) > disk.PageSize {
		return nil, fmt.Errorf("internal fanout %v does not fit a page", internalMaxSize)
	}
	if leafMaxSize < 3 || internalMaxSize < 3 {
		return nil, fmt.Errorf("fanout must be at least 3, got leaf %v internal %v", leafMaxSize, internalMaxSize)
	}

	t := &BPlusTree[K, V]{
		name:            name,
		pool:            pool,
		cmp:             cmp,
		keyCodec:        keyCodec,
		valCodec:        valCodec,
		keySize:         ks,
		valSize:         vs,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootID:          disk.InvalidPageID,
		lgr:             lgr,
	}

	hp, err := pool.FetchPage(disk.HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("could not fetch header page: %w", err)
	}
	hp.WLatch()
	h := headerPage{hp}
	if root, ok := h.find(name); ok {
		t.rootID = root
		hp.WUnlatch()
		pool.UnpinPage(disk.HeaderPageID, false)
	} else {
		if !h.upsert(name, disk.InvalidPageID) {
			hp.WUnlatch()
			pool.UnpinPage(disk.HeaderPageID, false)
			return nil, fmt.Errorf("header page is full, cannot register index %q", name)
		}
		hp.WUnlatch()
		pool.UnpinPage(disk.HeaderPageID, true)
	}

	return t, nil
}

func (t *BPlusTree[K, V]) IsEmpty() bool {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootID == disk.InvalidPageID
}

func (t *BPlusTree[K, V]) GetRootPageID() disk.PageID {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootID
}

// fetchPage and newPage wrap the pool; the tree treats pool failures as
// fatal, it has no way to proceed without a frame.
func (t *BPlusTree[K, V]) fetchPage(id disk.PageID) *pages.Page {
	p, err := t.pool.FetchPage(id)
	if err != nil {
		panic(fmt.Sprintf("fetching page %v failed: %v", id, err))
	}
	if p == nil {
		panic(fmt.Sprintf("fetching page %v failed: invalid page id", id))
	}
	return p
}

func (t *BPlusTree[K, V]) newPage() *pages.Page {
	p, err := t.pool.NewPage()
	if err != nil {
		panic(fmt.Sprintf("allocating a tree page failed: %v", err))
	}
	return p
}

func (t *BPlusTree[K, V]) unpin(p *pages.Page, dirty bool) {
	t.pool.UnpinPage(p.GetPageId(), dirty)
}

// pageSet is the crabbing stack: the ordered pages whose write latches the
// current operation still holds, root side first. rootHeld mirrors whether
// the tree wide root latch is part of the hold.
type pageSet[K any, V any] struct {
	t        *BPlusTree[K, V]
	pages    []*pages.Page
	rootHeld bool
}

func (s *pageSet[K, V]) push(p *pages.Page) { s.pages = append(s.pages, p) }

// pop transfers ownership of the deepest page to the caller.
func (s *pageSet[K, V]) pop() *pages.Page {
	p := s.pages[len(s.pages)-1]
	s.pages = s.pages[:len(s.pages)-1]
	return p
}

func (s *pageSet[K, V]) pageByID(id disk.PageID) *pages.Page {
	for _, p := range s.pages {
		if p.GetPageId() == id {
			return p
		}
	}
	return nil
}

func (s *pageSet[K, V]) removeByID(id disk.PageID) *pages.Page {
	for i, p := range s.pages {
		if p.GetPageId() == id {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			return p
		}
	}
	return nil
}

// releaseAll unlatches and unpins every held page, deepest first, and drops
// the root latch.
func (s *pageSet[K, V]) releaseAll(dirty bool) {
	for i := len(s.pages) - 1; i >= 0; i-- {
		p := s.pages[i]
		p.WUnlatch()
		s.t.unpin(p, dirty)
	}
	s.pages = s.pages[:0]
	if s.rootHeld {
		s.rootHeld = false
		s.t.rootLatch.Unlock()
	}
}

// isSafe reports whether the node cannot split (insert) or merge (delete) as
// a result of the current operation, so every ancestor latch can go.
func (t *BPlusTree[K, V]) isSafe(n node[K, V], mode opMode) bool {
	switch mode {
	case opSearch:
		return true
	case opInsert:
		if n.isLeaf() {
			// A leaf splits when an insert fills it to max, so the last free
			// slot already forces the ancestors to stay.
			return n.size() < n.maxSize()-1
		}
		return n.size() < n.maxSize()
	default: // opDelete
		if n.isRoot() {
			if n.isLeaf() {
				return n.size() > 1
			}
			// An internal root collapses when it is left with one child.
			return n.size() > 2
		}
		return n.size() > n.minSize()
	}
}

// descend walks from the root to the leaf that may contain key, write
// latching the path and releasing safe prefixes. The caller must hold the
// root latch (set.rootHeld) and the tree must not be empty.
func (t *BPlusTree[K, V]) descend(key K, leftMost bool, mode opMode, set *pageSet[K, V]) *pages.Page {
	cur := t.fetchPage(t.rootID)
	cur.WLatch()
	set.push(cur)

	for {
		n := t.wrap(cur)
		n.checkOwnID()
		if n.isLeaf() {
			return cur
		}

		var childID disk.PageID
		if leftMost {
			childID = n.childAt(0)
		} else {
			childID = n.childAt(n.childIndexFor(key))
		}

		child := t.fetchPage(childID)
		child.WLatch()
		if t.isSafe(t.wrap(child), mode) {
			set.releaseAll(false)
		}
		set.push(child)
		cur = child
	}
}

// GetValue returns a single element slice when key is present, an empty one
// otherwise.
func (t *BPlusTree[K, V]) GetValue(key K) []V {
	leaf, ok := t.searchLeaf(key, false)
	if !ok {
		return []V{}
	}

	n := t.wrap(leaf)
	res := []V{}
	if idx, found := n.leafLowerBound(key); found {
		res = append(res, n.leafValAt(idx))
	}
	leaf.RUnLatch()
	t.unpin(leaf, false)
	return res
}

// searchLeaf read crabs down to the leaf for key (or the leftmost leaf) and
// returns it read latched and pinned. ok is false on an empty tree.
func (t *BPlusTree[K, V]) searchLeaf(key K, leftMost bool) (*pages.Page, bool) {
	t.rootLatch.RLock()
	if t.rootID == disk.InvalidPageID {
		t.rootLatch.RUnlock()
		return nil, false
	}
	cur := t.fetchPage(t.rootID)
	cur.RLatch()
	t.rootLatch.RUnlock()

	for {
		n := t.wrap(cur)
		n.checkOwnID()
		if n.isLeaf() {
			return cur, true
		}

		var childID disk.PageID
		if leftMost {
			childID = n.childAt(0)
		} else {
			childID = n.childAt(n.childIndexFor(key))
		}
		child := t.fetchPage(childID)
		child.RLatch()
		cur.RUnLatch()
		t.unpin(cur, false)
		cur = child
	}
}

// Insert puts (key, value) into the index. False when the key already exists.
func (t *BPlusTree[K, V]) Insert(key K, value V) bool {
	set := &pageSet[K, V]{t: t}
	t.rootLatch.Lock()
	set.rootHeld = true

	if t.rootID == disk.InvalidPageID {
		t.startNewTree(key, value)
		set.releaseAll(false)
		return true
	}

	leafPage := t.descend(key, false, opInsert, set)
	n := t.wrap(leafPage)

	var idx int
	var found bool
	for {
		idx, found = n.leafLowerBound(key)

		// The leaf may have split between the descent's child choice and our
		// latch. When the key sorts past everything here and belongs to the
		// successor, hand the operation off one leaf to the right.
		if !found && idx == n.size() && n.next() != disk.InvalidPageID {
			succ := t.fetchPage(n.next())
			succ.WLatch()
			sn := t.wrap(succ)
			if sn.size() > 0 && t.cmp(key, sn.leafKeyAt(0)) >= 0 {
				old := set.pop()
				old.WUnlatch()
				t.unpin(old, false)
				set.push(succ)
				leafPage, n = succ, sn
				continue
			}
			succ.WUnlatch()
			t.unpin(succ, false)
		}
		break
	}

	if found {
		set.releaseAll(false)
		return false
	}

	n.leafInsertAt(idx, key, value)

	if n.size() >= n.maxSize() {
		t.splitLeaf(set, leafPage)
	}
	set.releaseAll(true)
	return true
}

// startNewTree creates the first leaf as root. Called with the root latch
// held and the tree empty; the page is unreachable until rootID is published,
// so no page latch is needed.
func (t *BPlusTree[K, V]) startNewTree(key K, value V) {
	p := t.newPage()
	n := t.initLeaf(p, disk.InvalidPageID)
	n.leafInsertAt(0, key, value)
	t.rootID = p.GetPageId()
	t.updateRootRecord()
	t.unpin(p, true)
	t.lgr.Debug("tree root created", zap.String("index", t.name), zap.Int32("root", int32(t.rootID)))
}

// splitLeaf moves the upper half of the (over-full) leaf into a fresh page,
// stitches the leaf chain and promotes the split key to the parent.
func (t *BPlusTree[K, V]) splitLeaf(set *pageSet[K, V], leafPage *pages.Page) {
	ln := t.wrap(leafPage)

	newPage := t.newPage()
	nn := t.initLeaf(newPage, ln.parent())

	splitIdx := ln.size() / 2
	ln.moveLeafTail(nn, splitIdx)
	nn.setNext(ln.next())
	ln.setNext(newPage.GetPageId())

	midKey := nn.leafKeyAt(0)
	t.lgr.Debug("leaf split", zap.Int32("left", int32(ln.pageID())), zap.Int32("right", int32(nn.pageID())))
	t.insertIntoParent(set, leafPage, midKey, newPage)
}

// insertIntoParent walks the split upward. left is write latched by this
// operation (normally retained in the page set); right is pinned, freshly
// allocated and unreachable, so it needs no latch while being wired in.
func (t *BPlusTree[K, V]) insertIntoParent(set *pageSet[K, V], left *pages.Page, key K, right *pages.Page) {
	var acquired []*pages.Page
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			p := acquired[i]
			p.WUnlatch()
			t.unpin(p, true)
		}
	}()

	for {
		ln := t.wrap(left)
		parentID := ln.parent()

		if parentID == disk.InvalidPageID {
			// left was the root; grow the tree by one level. The root latch
			// is held because an unsafe root is never released on descent.
			if !set.rootHeld {
				panic("splitting the root without holding the root latch")
			}
			rootPage := t.newPage()
			rn := t.initInternal(rootPage, disk.InvalidPageID)
			rn.setChildAt(0, left.GetPageId())
			rn.setSize(1)
			rn.internalInsertAt(1, key, right.GetPageId())
			ln.setParent(rootPage.GetPageId())
			t.wrap(right).setParent(rootPage.GetPageId())

			t.rootID = rootPage.GetPageId()
			t.updateRootRecord()
			t.unpin(rootPage, true)
			t.unpin(right, true)
			t.lgr.Debug("root grew", zap.String("index", t.name), zap.Int32("root", int32(t.rootID)))
			return
		}

		parent := set.pageByID(parentID)
		if parent == nil {
			// The parent was released as safe (or the leaf was reached by
			// hand-off); re-latch it by id and re-validate.
			parent = t.fetchPage(parentID)
			parent.WLatch()
			acquired = append(acquired, parent)
		}
		pn := t.wrap(parent)

		at := pn.childIndexOf(left.GetPageId())
		if at < 0 {
			panic(fmt.Sprintf("parent %v does not reference split child %v", parentID, left.GetPageId()))
		}
		pn.internalInsertAt(at+1, key, right.GetPageId())
		t.wrap(right).setParent(parentID)
		t.unpin(right, true)

		if pn.size() <= pn.maxSize() {
			return
		}

		// Split the internal node: the middle key moves up, the pivot child
		// becomes the sibling's slot 0.
		sibling := t.newPage()
		sn := t.initInternal(sibling, pn.parent())
		splitIdx := (pn.size() + 1) / 2
		midKey := pn.internalKeyAt(splitIdx)
		pn.moveInternalTail(sn, splitIdx)

		for i := 0; i < sn.size(); i++ {
			moved := t.fetchPage(sn.childAt(i))
			t.wrap(moved).setParent(sibling.GetPageId())
			t.unpin(moved, true)
		}
		t.lgr.Debug("internal split", zap.Int32("left", int32(pn.pageID())), zap.Int32("right", int32(sn.pageID())))

		key = midKey
		left = parent
		right = sibling
	}
}

// updateRootRecord publishes the current root page id through the header
// page record for this index. Called while the root latch is held.
func (t *BPlusTree[K, V]) updateRootRecord() {
	hp := t.fetchPage(disk.HeaderPageID)
	hp.WLatch()
	h := headerPage{hp}
	if !h.upsert(t.name, t.rootID) {
		hp.WUnlatch()
		t.unpin(hp, false)
		panic(fmt.Sprintf("header page is full, cannot persist root of %q", t.name))
	}
	hp.WUnlatch()
	t.unpin(hp, true)
}

// Height walks leftmost children and reports the number of levels.
func (t *BPlusTree[K, V]) Height() int {
	t.rootLatch.RLock()
	if t.rootID == disk.InvalidPageID {
		t.rootLatch.RUnlock()
		return 0
	}
	cur := t.fetchPage(t.rootID)
	cur.RLatch()
	t.rootLatch.RUnlock()

	h := 1
	for {
		n := t.wrap(cur)
		if n.isLeaf() {
			cur.RUnLatch()
			t.unpin(cur, false)
			return h
		}
		child := t.fetchPage(n.childAt(0))
		child.RLatch()
		cur.RUnLatch()
		t.unpin(cur, false)
		cur = child
		h++
	}
}

// Count walks the leaf chain and reports the number of stored keys.
func (t *BPlusTree[K, V]) Count() int {
	leaf, ok := t.searchLeaf(*new(K), true)
	if !ok {
		return 0
	}

	total := 0
	for {
		n := t.wrap(leaf)
		total += n.size()
		next := n.next()
		// Release before following the chain: holding a leaf while latching
		// its successor could cycle with a merge that takes siblings in page
		// id order, which is not chain order.
		leaf.RUnLatch()
		t.unpin(leaf, false)
		if next == disk.InvalidPageID {
			return total
		}
		nextPage := t.fetchPage(next)
		nextPage.RLatch()
		leaf = nextPage
	}
}
