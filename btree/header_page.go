package btree

import (
	"encoding/binary"

	"tarn/disk"
	"tarn/disk/pages"
)

// The header page (page id 0) persists index-name to root-page-id records so
// an index can recover its root on reopen. Layout: record count at offset 0,
// then fixed size records of a zero padded name and the root page id.
const (
	headerNameLen    = 32
	headerRecordSize = headerNameLen + 4
	maxHeaderRecords = (disk.PageSize - 4) / headerRecordSize
)

type headerPage struct {
	p *pages.Page
}

func (h headerPage) recordCount() int {
	return int(int32(binary.LittleEndian.Uint32(h.p.GetData())))
}

func (h headerPage) setRecordCount(n int) {
	binary.LittleEndian.PutUint32(h.p.GetData(), uint32(n))
}

func (h headerPage) recordAt(i int) []byte {
	off := 4 + i*headerRecordSize
	return h.p.GetData()[off : off+headerRecordSize]
}

func (h headerPage) nameAt(i int) string {
	rec := h.recordAt(i)
	end := 0
	for end < headerNameLen && rec[end] != 0 {
		end++
	}
	return string(rec[:end])
}

func (h headerPage) rootAt(i int) disk.PageID {
	rec := h.recordAt(i)
	return disk.PageID(int32(binary.LittleEndian.Uint32(rec[headerNameLen:])))
}

func (h headerPage) find(name string) (disk.PageID, bool) {
	for i := 0; i < h.recordCount(); i++ {
		if h.nameAt(i) == name {
			return h.rootAt(i), true
		}
	}
	return disk.InvalidPageID, false
}

// upsert writes the record for name, appending it when absent. Reports false
// when the page is full and the name is new.
func (h headerPage) upsert(name string, root disk.PageID) bool {
	for i := 0; i < h.recordCount(); i++ {
		if h.nameAt(i) == name {
			binary.LittleEndian.PutUint32(h.recordAt(i)[headerNameLen:], uint32(root))
			return true
		}
	}

	n := h.recordCount()
	if n >= maxHeaderRecords {
		return false
	}
	rec := h.recordAt(n)
	for i := range rec[:headerNameLen] {
		rec[i] = 0
	}
	copy(rec, name)
	binary.LittleEndian.PutUint32(rec[headerNameLen:], uint32(root))
	h.setRecordCount(n + 1)
	return true
}
