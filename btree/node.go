package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"tarn/disk"
	"tarn/disk/pages"
)

// A node occupies the data area of one buffered page. Both kinds share a
// common header; fixed size slots follow it.
//
//	offset 0   node type (1 leaf, 2 internal)
//	offset 4   own page id
//	offset 8   parent page id (InvalidPageID for the root)
//	offset 12  size: item count for leaves, child count for internal nodes
//	offset 16  max size
//	offset 20  next leaf page id (leaves only)
//
// A leaf slot is key then value. An internal slot is key then child page id;
// slot 0's key area is unused, its child holds everything below the first
// separator.
const (
	nodeTypeLeaf     byte = 1
	nodeTypeInternal byte = 2

	offNodeType = 0
	offPageID   = 4
	offParent   = 8
	offSize     = 12
	offMaxSize  = 16
	offNext     = 20

	nodeHeaderSize = 24

	childPtrSize = 4
)

type node[K any, V any] struct {
	p *pages.Page
	t *BPlusTree[K, V]
}

func (t *BPlusTree[K, V]) wrap(p *pages.Page) node[K, V] {
	return node[K, V]{p: p, t: t}
}

func (t *BPlusTree[K, V]) initLeaf(p *pages.Page, parent disk.PageID) node[K, V] {
	d := p.GetData()
	for i := 0; i < nodeHeaderSize; i++ {
		d[i] = 0
	}
	d[offNodeType] = nodeTypeLeaf
	binary.LittleEndian.PutUint32(d[offPageID:], uint32(p.GetPageId()))
	binary.LittleEndian.PutUint32(d[offParent:], uint32(parent))
	binary.LittleEndian.PutUint32(d[offMaxSize:], uint32(t.leafMaxSize))
	invalidNext := disk.InvalidPageID
	binary.LittleEndian.PutUint32(d[offNext:], uint32(invalidNext))
	return t.wrap(p)
}

func (t *BPlusTree[K, V]) initInternal(p *pages.Page, parent disk.PageID) node[K, V] {
	d := p.GetData()
	for i := 0; i < nodeHeaderSize; i++ {
		d[i] = 0
	}
	d[offNodeType] = nodeTypeInternal
	binary.LittleEndian.PutUint32(d[offPageID:], uint32(p.GetPageId()))
	binary.LittleEndian.PutUint32(d[offParent:], uint32(parent))
	binary.LittleEndian.PutUint32(d[offMaxSize:], uint32(t.internalMaxSize))
	return t.wrap(p)
}

func (n node[K, V]) data() []byte { return n.p.GetData() }

func (n node[K, V]) isLeaf() bool { return n.data()[offNodeType] == nodeTypeLeaf }

func (n node[K, V]) pageID() disk.PageID { return n.p.GetPageId() }

func (n node[K, V]) size() int {
	return int(int32(binary.LittleEndian.Uint32(n.data()[offSize:])))
}

func (n node[K, V]) setSize(size int) {
	binary.LittleEndian.PutUint32(n.data()[offSize:], uint32(size))
}

func (n node[K, V]) incSize(delta int) { n.setSize(n.size() + delta) }

func (n node[K, V]) maxSize() int {
	return int(int32(binary.LittleEndian.Uint32(n.data()[offMaxSize:])))
}

// minSize is half the capacity for leaves and half the child slots rounded
// up for internal nodes.
func (n node[K, V]) minSize() int {
	if n.isLeaf() {
		return n.maxSize() / 2
	}
	return (n.maxSize() + 1) / 2
}

func (n node[K, V]) parent() disk.PageID {
	return disk.PageID(int32(binary.LittleEndian.Uint32(n.data()[offParent:])))
}

func (n node[K, V]) setParent(id disk.PageID) {
	binary.LittleEndian.PutUint32(n.data()[offParent:], uint32(id))
}

func (n node[K, V]) isRoot() bool { return n.parent() == disk.InvalidPageID }

func (n node[K, V]) next() disk.PageID {
	return disk.PageID(int32(binary.LittleEndian.Uint32(n.data()[offNext:])))
}

func (n node[K, V]) setNext(id disk.PageID) {
	binary.LittleEndian.PutUint32(n.data()[offNext:], uint32(id))
}

/* leaf slots */

func (n node[K, V]) leafSlotSize() int { return n.t.keySize + n.t.valSize }

func (n node[K, V]) leafSlot(i int) []byte {
	off := nodeHeaderSize + i*n.leafSlotSize()
	return n.data()[off : off+n.leafSlotSize()]
}

func (n node[K, V]) leafKeyAt(i int) K {
	return n.t.keyCodec.Decode(n.leafSlot(i))
}

func (n node[K, V]) leafValAt(i int) V {
	return n.t.valCodec.Decode(n.leafSlot(i)[n.t.keySize:])
}

func (n node[K, V]) setLeafAt(i int, key K, val V) {
	s := n.leafSlot(i)
	n.t.keyCodec.Encode(s, key)
	n.t.valCodec.Encode(s[n.t.keySize:], val)
}

// leafInsertAt shifts the tail right by one slot and writes the item.
func (n node[K, V]) leafInsertAt(i int, key K, val V) {
	ss := n.leafSlotSize()
	start := nodeHeaderSize + i*ss
	end := nodeHeaderSize + n.size()*ss
	copy(n.data()[start+ss:end+ss], n.data()[start:end])
	n.setLeafAt(i, key, val)
	n.incSize(1)
}

func (n node[K, V]) leafRemoveAt(i int) {
	ss := n.leafSlotSize()
	start := nodeHeaderSize + i*ss
	end := nodeHeaderSize + n.size()*ss
	copy(n.data()[start:], n.data()[start+ss:end])
	n.incSize(-1)
}

// leafLowerBound returns the first slot whose key is >= key and whether that
// slot holds exactly key.
func (n node[K, V]) leafLowerBound(key K) (int, bool) {
	size := n.size()
	idx := sort.Search(size, func(i int) bool {
		return n.t.cmp(key, n.leafKeyAt(i)) <= 0
	})
	return idx, idx < size && n.t.cmp(key, n.leafKeyAt(idx)) == 0
}

/* internal slots */

func (n node[K, V]) internalSlotSize() int { return n.t.keySize + childPtrSize }

func (n node[K, V]) internalSlot(i int) []byte {
	off := nodeHeaderSize + i*n.internalSlotSize()
	return n.data()[off : off+n.internalSlotSize()]
}

func (n node[K, V]) internalKeyAt(i int) K {
	return n.t.keyCodec.Decode(n.internalSlot(i))
}

func (n node[K, V]) setInternalKeyAt(i int, key K) {
	n.t.keyCodec.Encode(n.internalSlot(i), key)
}

func (n node[K, V]) childAt(i int) disk.PageID {
	s := n.internalSlot(i)
	return disk.PageID(int32(binary.LittleEndian.Uint32(s[n.t.keySize:])))
}

func (n node[K, V]) setChildAt(i int, id disk.PageID) {
	s := n.internalSlot(i)
	binary.LittleEndian.PutUint32(s[n.t.keySize:], uint32(id))
}

// internalInsertAt shifts slots [i, size) right and writes (key, child).
func (n node[K, V]) internalInsertAt(i int, key K, child disk.PageID) {
	ss := n.internalSlotSize()
	start := nodeHeaderSize + i*ss
	end := nodeHeaderSize + n.size()*ss
	copy(n.data()[start+ss:end+ss], n.data()[start:end])
	n.setInternalKeyAt(i, key)
	n.setChildAt(i, child)
	n.incSize(1)
}

func (n node[K, V]) internalRemoveAt(i int) {
	ss := n.internalSlotSize()
	start := nodeHeaderSize + i*ss
	end := nodeHeaderSize + n.size()*ss
	copy(n.data()[start:], n.data()[start+ss:end])
	n.incSize(-1)
}

// childIndexFor picks the child whose subtree may contain key: the child
// following the largest separator that is <= key, child 0 when none is.
func (n node[K, V]) childIndexFor(key K) int {
	return sort.Search(n.size()-1, func(i int) bool {
		return n.t.cmp(key, n.internalKeyAt(i+1)) < 0
	})
}

// childIndexOf scans for the slot pointing at id, -1 when absent.
func (n node[K, V]) childIndexOf(id disk.PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.childAt(i) == id {
			return i
		}
	}
	return -1
}

// moveLeafTail moves slots [from, size) into dst starting at dst slot 0.
// Sizes are adjusted on both nodes.
func (n node[K, V]) moveLeafTail(dst node[K, V], from int) {
	ss := n.leafSlotSize()
	count := n.size() - from
	srcStart := nodeHeaderSize + from*ss
	copy(dst.data()[nodeHeaderSize:], n.data()[srcStart:srcStart+count*ss])
	dst.setSize(count)
	n.setSize(from)
}

// moveInternalTail moves child slots [from, size) into dst starting at slot 0.
// dst slot 0's key area receives whatever was there; callers treat it as
// unused.
func (n node[K, V]) moveInternalTail(dst node[K, V], from int) {
	ss := n.internalSlotSize()
	count := n.size() - from
	srcStart := nodeHeaderSize + from*ss
	copy(dst.data()[nodeHeaderSize:], n.data()[srcStart:srcStart+count*ss])
	dst.setSize(count)
	n.setSize(from)
}

// appendLeafFrom copies all of src's slots to the end of n and fixes sizes.
func (n node[K, V]) appendLeafFrom(src node[K, V]) {
	ss := n.leafSlotSize()
	dstStart := nodeHeaderSize + n.size()*ss
	copy(n.data()[dstStart:], src.data()[nodeHeaderSize:nodeHeaderSize+src.size()*ss])
	n.incSize(src.size())
}

func (n node[K, V]) checkOwnID() {
	stored := disk.PageID(int32(binary.LittleEndian.Uint32(n.data()[offPageID:])))
	if stored != n.p.GetPageId() {
		panic(fmt.Sprintf("node page id %v disagrees with frame page id %v", stored, n.p.GetPageId()))
	}
}
