package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tarn/disk"
	"tarn/disk/pages"
	"tarn/hash"
)

var ErrNoFreeFrame = errors.New("no frame could be obtained: all pages are pinned")

const pageTableBucketSize = 8

// Pool is what higher layers see of the buffer pool manager.
type Pool interface {
	// NewPage allocates a fresh page id, places it in a frame and returns the
	// frame's page pinned once. ErrNoFreeFrame when everything is pinned.
	NewPage() (*pages.Page, error)

	// FetchPage returns the page pinned, reading it from disk when it is not
	// resident. nil page and no error for InvalidPageID.
	FetchPage(pageID disk.PageID) (*pages.Page, error)

	// UnpinPage drops one pin and ORs the dirty bit. False when the page is
	// not resident or was not pinned.
	UnpinPage(pageID disk.PageID, isDirty bool) bool

	// FlushPage writes the page's bytes to disk regardless of the dirty bit
	// and clears it. False when the page is not resident.
	FlushPage(pageID disk.PageID) bool

	// FlushAllPages writes every resident page back, dirty or not.
	FlushAllPages()

	// DeletePage drops a resident, unpinned page from the pool and
	// deallocates it on disk. False when the page is still pinned.
	DeletePage(pageID disk.PageID) bool
}

var _ Pool = &BufferPoolManager{}

// BufferPoolManager owns a fixed set of frames and serves pages out of them
// with a pin/unpin discipline. One mutex covers the page table, the replacer,
// the free list and all frame bookkeeping; it is held across disk I/O, which
// keeps the invariants simple at the cost of throughput. Page latches are
// never taken under the pool mutex.
type BufferPoolManager struct {
	poolSize    int
	frames      []*pages.Page
	freeList    []int
	pageTable   *hash.ExtendibleHashTable[disk.PageID, int]
	replacer    Replacer
	diskManager disk.IDiskManager
	nextPageID  disk.PageID
	mu          sync.Mutex
	lgr         *zap.Logger
	metrics     *Metrics
}

func NewBufferPoolManager(poolSize, replacerK int, dm disk.IDiskManager, lgr *zap.Logger) *BufferPoolManager {
	return NewBufferPoolManagerWithReplacer(poolSize, NewLRUKReplacer(poolSize, replacerK), dm, lgr)
}

func NewBufferPoolManagerWithReplacer(poolSize int, replacer Replacer, dm disk.IDiskManager, lgr *zap.Logger) *BufferPoolManager {
	if lgr == nil {
		lgr = zap.NewNop()
	}

	frames := make([]*pages.Page, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = pages.NewPage(disk.InvalidPageID)
		freeList[i] = i
	}

	return &BufferPoolManager{
		poolSize:    poolSize,
		frames:      frames,
		freeList:    freeList,
		pageTable:   hash.NewExtendibleHashTable[disk.PageID, int](pageTableBucketSize, hash.IdentityHasher[disk.PageID]),
		replacer:    replacer,
		diskManager: dm,
		// page id 0 is the header page, handed out only via FetchPage.
		nextPageID: disk.HeaderPageID + 1,
		lgr:        lgr,
		metrics:    newMetrics(),
	}
}

func (b *BufferPoolManager) NewPage() (*pages.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, err := b.obtainFrame()
	if err != nil {
		return nil, err
	}

	pageID := b.allocatePage()
	frame := b.frames[frameID]
	frame.Reset()
	frame.SetPageId(pageID)
	frame.SetPinCount(1)

	b.pageTable.Insert(pageID, frameID)
	b.replacer.RecordAccess(frameID)
	b.replacer.SetEvictable(frameID, false)

	return frame, nil
}

func (b *BufferPoolManager) FetchPage(pageID disk.PageID) (*pages.Page, error) {
	if pageID == disk.InvalidPageID {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if frameID, ok := b.pageTable.Find(pageID); ok {
		frame := b.frames[frameID]
		if frame.GetPageId() != pageID {
			panic(fmt.Sprintf("page table maps page %v to frame %v which holds page %v", pageID, frameID, frame.GetPageId()))
		}
		frame.IncrPinCount()
		b.replacer.RecordAccess(frameID)
		b.replacer.SetEvictable(frameID, false)
		b.metrics.Hits.Inc()
		return frame, nil
	}
	b.metrics.Misses.Inc()

	frameID, err := b.obtainFrame()
	if err != nil {
		return nil, err
	}

	frame := b.frames[frameID]
	frame.Reset()
	if err := b.diskManager.ReadPage(pageID, frame.GetData()); err != nil {
		// The frame was already detached from its old page; return it to the
		// free list so nothing leaks between the list and the replacer.
		frame.Reset()
		b.freeList = append(b.freeList, frameID)
		return nil, fmt.Errorf("ReadPage failed for page %v: %w", pageID, err)
	}
	b.metrics.DiskReads.Inc()

	frame.SetPageId(pageID)
	frame.SetPinCount(1)
	b.pageTable.Insert(pageID, frameID)
	b.replacer.RecordAccess(frameID)
	b.replacer.SetEvictable(frameID, false)

	return frame, nil
}

func (b *BufferPoolManager) UnpinPage(pageID disk.PageID, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return false
	}

	frame := b.frames[frameID]
	if frame.GetPinCount() <= 0 {
		return false
	}

	frame.DecrPinCount()
	if isDirty {
		frame.SetDirty()
	}
	if frame.GetPinCount() == 0 {
		b.replacer.SetEvictable(frameID, true)
	}
	return true
}

func (b *BufferPoolManager) FlushPage(pageID disk.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pageID == disk.InvalidPageID {
		return false
	}
	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return false
	}

	frame := b.frames[frameID]
	if err := b.diskManager.WritePage(pageID, frame.GetData()); err != nil {
		panic(fmt.Sprintf("WritePage failed for page %v: %v", pageID, err))
	}
	b.metrics.DiskWrites.Inc()
	b.metrics.Flushes.Inc()
	frame.SetClean()
	return true
}

// FlushAllPages writes every resident page unconditionally, dirty bit or not.
func (b *BufferPoolManager) FlushAllPages() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, frame := range b.frames {
		if frame.GetPageId() == disk.InvalidPageID {
			continue
		}
		if err := b.diskManager.WritePage(frame.GetPageId(), frame.GetData()); err != nil {
			panic(fmt.Sprintf("WritePage failed for page %v: %v", frame.GetPageId(), err))
		}
		b.metrics.DiskWrites.Inc()
		b.metrics.Flushes.Inc()
		frame.SetClean()
	}
}

func (b *BufferPoolManager) DeletePage(pageID disk.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		b.deallocatePage(pageID)
		return true
	}

	frame := b.frames[frameID]
	if frame.GetPinCount() > 0 {
		return false
	}

	b.replacer.SetEvictable(frameID, true)
	b.replacer.Remove(frameID)
	b.pageTable.Remove(pageID)
	frame.Reset()
	b.freeList = append(b.freeList, frameID)
	b.deallocatePage(pageID)

	b.lgr.Debug("page deleted from pool", zap.Int32("pageID", int32(pageID)), zap.Int("frame", frameID))
	return true
}

// RegisterMetrics registers the pool's counters with reg.
func (b *BufferPoolManager) RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(b.metrics)
}

func (b *BufferPoolManager) GetPoolSize() int { return b.poolSize }

func (b *BufferPoolManager) Replacer() Replacer { return b.replacer }

// ResidentFrameOf reports the frame currently buffering the page, if any.
// Tests use it to observe eviction without touching pin counts.
func (b *BufferPoolManager) ResidentFrameOf(pageID disk.PageID) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageTable.Find(pageID)
}

// obtainFrame pops the free list or evicts a victim, writing it back first
// when dirty. Called with the pool mutex held.
func (b *BufferPoolManager) obtainFrame() (int, error) {
	if len(b.freeList) > 0 {
		frameID := b.freeList[0]
		b.freeList = b.freeList[1:]
		return frameID, nil
	}

	frameID, ok := b.replacer.Evict()
	if !ok {
		return 0, ErrNoFreeFrame
	}

	victim := b.frames[frameID]
	if victim.GetPinCount() != 0 {
		panic(fmt.Sprintf("evicted frame %v still has pin count %v", frameID, victim.GetPinCount()))
	}
	if victim.GetPageId() != disk.InvalidPageID {
		if victim.IsDirty() {
			if err := b.diskManager.WritePage(victim.GetPageId(), victim.GetData()); err != nil {
				panic(fmt.Sprintf("write back of victim page %v failed: %v", victim.GetPageId(), err))
			}
			b.metrics.DiskWrites.Inc()
			victim.SetClean()
		}
		b.pageTable.Remove(victim.GetPageId())
		b.lgr.Debug("evicted page", zap.Int32("pageID", int32(victim.GetPageId())), zap.Int("frame", frameID))
	}
	b.metrics.Evictions.Inc()
	return frameID, nil
}

func (b *BufferPoolManager) allocatePage() disk.PageID {
	id := b.nextPageID
	b.nextPageID++
	return id
}

// deallocatePage would return the page to the disk manager's free space; disk
// reclamation is out of scope, so it only logs.
func (b *BufferPoolManager) deallocatePage(pageID disk.PageID) {
	b.lgr.Debug("page deallocated", zap.Int32("pageID", int32(pageID)))
}
