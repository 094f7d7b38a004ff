package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// PageID identifies a physical page in the database file. Ids are assigned
// monotonically by the buffer pool; InvalidPageID marks absence.
type PageID int32

const InvalidPageID PageID = -1

// HeaderPageID is reserved for the header page that keeps index-name to
// root-page-id records. The buffer pool never hands it out from its allocator.
const HeaderPageID PageID = 0

const PageSize int = 4096

var ErrShortWrite = errors.New("written bytes are not equal to page size")

// IDiskManager is the synchronous page read/write oracle the buffer pool
// talks to. Both calls may fail; failures are treated as fatal by callers.
type IDiskManager interface {
	// ReadPage fills buf with the content of the physical page. A page that
	// was never written reads as zeroes.
	ReadPage(pageID PageID, buf []byte) error

	// WritePage persists exactly PageSize bytes at the page's offset.
	WritePage(pageID PageID, data []byte) error

	Sync() error
	Close() error
}

var _ IDiskManager = &Manager{}

// Manager is a file backed IDiskManager. Page n lives at byte offset
// n*PageSize in a single database file.
type Manager struct {
	file     *os.File
	filename string
	mu       sync.Mutex
	lgr      *zap.Logger
}

func NewDiskManager(file string, lgr *zap.Logger) (*Manager, error) {
	if lgr == nil {
		lgr = zap.NewNop()
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("could not open db file: %w", err)
	}

	stats, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	lgr.Debug("db file opened", zap.String("file", file), zap.Int64("size", stats.Size()))

	return &Manager{file: f, filename: file, lgr: lgr}, nil
}

func (d *Manager) ReadPage(pageID PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("read buffer length %v is not page size", len(buf))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.file.ReadAt(buf, int64(pageID)*int64(PageSize))
	if err == io.EOF {
		// The page lies (partly) past the end of the file: it was never
		// written. Zero fill the rest so that callers
		// always observe a full page.
		for i := n; i < PageSize; i++ {
			buf[i] = 0
		}
		return nil
	}
	return err
}

func (d *Manager) WritePage(pageID PageID, data []byte) error {
	if len(data) != PageSize {
		return ErrShortWrite
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.file.WriteAt(data, int64(pageID)*int64(PageSize))
	if err != nil {
		return err
	}
	if n != PageSize {
		return ErrShortWrite
	}
	return nil
}

func (d *Manager) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Sync()
}

func (d *Manager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

var _ IDiskManager = &MemDiskManager{}

// MemDiskManager keeps pages in a map. It exists for tests that do not care
// about files but still exercise eviction and write back.
type MemDiskManager struct {
	mu    sync.Mutex
	pages map[PageID][]byte
}

func NewMemDiskManager() *MemDiskManager {
	return &MemDiskManager{pages: map[PageID][]byte{}}
}

func (m *MemDiskManager) ReadPage(pageID PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("read buffer length %v is not page size", len(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pages[pageID]; ok {
		copy(buf, p)
		return nil
	}
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (m *MemDiskManager) WritePage(pageID PageID, data []byte) error {
	if len(data) != PageSize {
		return ErrShortWrite
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := make([]byte, PageSize)
	copy(p, data)
	m.pages[pageID] = p
	return nil
}

func (m *MemDiskManager) Sync() error  { return nil }
func (m *MemDiskManager) Close() error { return nil }
