package btree

import "encoding/binary"

// Comparator is a three-way compare over keys: negative when a < b, zero when
// equal, positive when a > b. It must be a total order.
type Comparator[K any] func(a, b K) int

// KeyCodec serializes keys into fixed size slots inside node pages.
type KeyCodec[K any] interface {
	Size() int
	Encode(dst []byte, k K)
	Decode(src []byte) K
}

// ValCodec serializes leaf payloads into fixed size slots.
type ValCodec[V any] interface {
	Size() int
	Encode(dst []byte, v V)
	Decode(src []byte) V
}

func Int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

type Int64Codec struct{}

func (Int64Codec) Size() int                 { return 8 }
func (Int64Codec) Encode(dst []byte, k int64) { binary.LittleEndian.PutUint64(dst, uint64(k)) }
func (Int64Codec) Decode(src []byte) int64    { return int64(binary.LittleEndian.Uint64(src)) }

type Uint32Codec struct{}

func (Uint32Codec) Size() int                  { return 4 }
func (Uint32Codec) Encode(dst []byte, k uint32) { binary.LittleEndian.PutUint32(dst, k) }
func (Uint32Codec) Decode(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }

// SlotPointer locates a record inside a slotted data page. It is the natural
// payload of a secondary index entry.
type SlotPointer struct {
	PageId  int64
	SlotIdx int16
}

type SlotPointerCodec struct{}

func (SlotPointerCodec) Size() int { return 10 }

func (SlotPointerCodec) Encode(dst []byte, v SlotPointer) {
	binary.LittleEndian.PutUint64(dst, uint64(v.PageId))
	binary.LittleEndian.PutUint16(dst[8:], uint16(v.SlotIdx))
}

func (SlotPointerCodec) Decode(src []byte) SlotPointer {
	return SlotPointer{
		PageId:  int64(binary.LittleEndian.Uint64(src)),
		SlotIdx: int16(binary.LittleEndian.Uint16(src[8:])),
	}
}
