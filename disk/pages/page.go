package pages

import (
	"sync"

	"tarn/disk"
)

// Page wraps one fixed size frame buffer in the pool. It keeps the buffered
// page's id, a pin count and a dirty bit for the buffer pool, and a
// reader/writer latch that is independent of the pool wide mutex.
//
// Pin count, dirty bit and the page id field are mutated only while the pool
// mutex is held; the latch protects the byte buffer itself.
type Page struct {
	pageID   disk.PageID
	pinCount int
	isDirty  bool
	rwLatch  sync.RWMutex
	data     []byte
}

func NewPage(pageID disk.PageID) *Page {
	return &Page{
		pageID: pageID,
		data:   make([]byte, disk.PageSize),
	}
}

func (p *Page) GetPageId() disk.PageID { return p.pageID }

func (p *Page) SetPageId(id disk.PageID) { p.pageID = id }

// GetData returns the raw byte buffer of the frame. Mutating it requires the
// write latch.
func (p *Page) GetData() []byte { return p.data }

func (p *Page) GetPinCount() int { return p.pinCount }

func (p *Page) IncrPinCount() { p.pinCount++ }

func (p *Page) DecrPinCount() { p.pinCount-- }

func (p *Page) SetPinCount(n int) { p.pinCount = n }

func (p *Page) IsDirty() bool { return p.isDirty }

func (p *Page) SetDirty() { p.isDirty = true }

func (p *Page) SetClean() { p.isDirty = false }

// Reset clears the buffer and bookkeeping so the frame can be recycled.
func (p *Page) Reset() {
	p.pageID = disk.InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) WLatch() { p.rwLatch.Lock() }

func (p *Page) WUnlatch() { p.rwLatch.Unlock() }

func (p *Page) RLatch() { p.rwLatch.RLock() }

func (p *Page) RUnLatch() { p.rwLatch.RUnlock() }
