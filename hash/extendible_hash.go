package hash

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Hasher maps a key to a well distributed 64 bit value. Directory indexing
// masks the low bits, so keys whose hashes collide on every bit can never be
// separated; hashers are expected to avoid that.
type Hasher[K comparable] func(K) uint64

func XXStringHasher(s string) uint64 { return xxhash.Sum64String(s) }

func XXBytesHasher(b []byte) uint64 { return xxhash.Sum64(b) }

// IdentityHasher hashes integral keys to themselves, the way the page table
// hashes page ids.
func IdentityHasher[K ~int | ~int32 | ~int64 | ~uint32 | ~uint64](k K) uint64 {
	return uint64(k)
}

type entry[K comparable, V any] struct {
	key K
	val V
}

type bucket[K comparable, V any] struct {
	items      []entry[K, V]
	size       int
	localDepth int
}

func newBucket[K comparable, V any](size, depth int) *bucket[K, V] {
	return &bucket[K, V]{items: make([]entry[K, V], 0, size), size: size, localDepth: depth}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, it := range b.items {
		if it.key == key {
			return it.val, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, it := range b.items {
		if it.key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// insert overwrites the value when key is present. It reports false when the
// bucket is full and the key is absent, which makes the caller split.
func (b *bucket[K, V]) insert(key K, val V) bool {
	for i, it := range b.items {
		if it.key == key {
			b.items[i].val = val
			return true
		}
	}
	if len(b.items) >= b.size {
		return false
	}
	b.items = append(b.items, entry[K, V]{key: key, val: val})
	return true
}

// ExtendibleHashTable is an in memory unique map with bucket level splitting.
// The buffer pool uses it as its page table; it is also usable standalone.
// All operations are serialized by one mutex.
type ExtendibleHashTable[K comparable, V any] struct {
	globalDepth int
	numBuckets  int
	bucketSize  int
	dir         []*bucket[K, V]
	hasher      Hasher[K]
	mu          sync.Mutex
}

func NewExtendibleHashTable[K comparable, V any](bucketSize int, hasher Hasher[K]) *ExtendibleHashTable[K, V] {
	t := &ExtendibleHashTable[K, V]{
		globalDepth: 0,
		numBuckets:  1,
		bucketSize:  bucketSize,
		hasher:      hasher,
	}
	t.dir = []*bucket[K, V]{newBucket[K, V](bucketSize, 0)}
	return t
}

func (t *ExtendibleHashTable[K, V]) indexOf(key K) int {
	mask := uint64(1)<<t.globalDepth - 1
	return int(t.hasher(key) & mask)
}

func (t *ExtendibleHashTable[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].find(key)
}

func (t *ExtendibleHashTable[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].remove(key)
}

// Insert puts key into its bucket, overwriting any previous value. When the
// bucket is full it is split, doubling the directory first if the bucket's
// local depth reached the global depth; a single split may not separate the
// colliding keys, so insertion retries until it lands.
func (t *ExtendibleHashTable[K, V]) Insert(key K, val V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		b := t.dir[t.indexOf(key)]
		if b.insert(key, val) {
			return
		}

		if b.localDepth == t.globalDepth {
			t.globalDepth++
			old := len(t.dir)
			t.dir = append(t.dir, make([]*bucket[K, V], old)...)
			copy(t.dir[old:], t.dir[:old])
		}

		t.splitBucket(b)
	}
}

// splitBucket raises b's local depth, moves the items whose hash has the new
// bit set into a fresh sibling and points the matching directory slots at it.
func (t *ExtendibleHashTable[K, V]) splitBucket(b *bucket[K, V]) {
	b.localDepth++
	sibling := newBucket[K, V](t.bucketSize, b.localDepth)
	splitBit := uint64(1) << (b.localDepth - 1)

	kept := b.items[:0:0]
	for _, it := range b.items {
		if t.hasher(it.key)&splitBit != 0 {
			sibling.items = append(sibling.items, it)
		} else {
			kept = append(kept, it)
		}
	}
	b.items = kept

	for i := range t.dir {
		if t.dir[i] == b && uint64(i)&splitBit != 0 {
			t.dir[i] = sibling
		}
	}
	t.numBuckets++
}

func (t *ExtendibleHashTable[K, V]) GetGlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

func (t *ExtendibleHashTable[K, V]) GetLocalDepth(dirIndex int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[dirIndex].localDepth
}

func (t *ExtendibleHashTable[K, V]) GetNumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numBuckets
}
