package page

import (
	"encoding/binary"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

// KeyCodec fixes the on-page representation of a B+ tree key type.
type KeyCodec[K any] interface {
	Size() int
	Encode(buf []byte, key K)
	Decode(buf []byte) K
}

// Comparator orders keys; negative/zero/positive like bytes.Compare.
type Comparator[K any] func(a, b K) int

type BTreePageType uint32

const (
	BTreePageInvalid BTreePageType = iota
	BTreePageInternal
	BTreePageLeaf
)

// Shared B+ tree node header:
//
//	| pageType(4) | lsn(4) | size(4) | maxSize(4) | parentPageID(4) | pageID(4)
//
// Leaves append nextPageID(4); pair arrays start right after.
const (
	btreePageTypeOffset = 0
	btreeSizeOffset     = 8
	btreeMaxSizeOffset  = 12
	btreeParentOffset   = 16
	btreePageIDOffset   = 20

	btreeInternalHeaderSize = 24
	btreeLeafNextOffset     = 24
	btreeLeafHeaderSize     = 28
)

// BTreePage gives typed access to the shared node header over a raw
// frame.
type BTreePage struct {
	*Page
}

func AsBTreePage(p *Page) *BTreePage {
	return &BTreePage{Page: p}
}

func (b *BTreePage) PageType() BTreePageType {
	return BTreePageType(b.u32(btreePageTypeOffset))
}

func (b *BTreePage) setPageType(t BTreePageType) {
	b.putU32(btreePageTypeOffset, uint32(t))
}

func (b *BTreePage) IsLeaf() bool {
	return b.PageType() == BTreePageLeaf
}

func (b *BTreePage) Size() int {
	return int(int32(b.u32(btreeSizeOffset)))
}

func (b *BTreePage) SetSize(n int) {
	b.putU32(btreeSizeOffset, uint32(int32(n)))
}

func (b *BTreePage) IncreaseSize(delta int) {
	b.SetSize(b.Size() + delta)
}

func (b *BTreePage) MaxSize() int {
	return int(int32(b.u32(btreeMaxSizeOffset)))
}

func (b *BTreePage) setMaxSize(n int) {
	b.putU32(btreeMaxSizeOffset, uint32(int32(n)))
}

// MinSize is the fill floor for non-root nodes.
func (b *BTreePage) MinSize() int {
	return (b.MaxSize() + 1) / 2
}

func (b *BTreePage) ParentPageID() common.PageID {
	return common.PageID(b.u32(btreeParentOffset))
}

func (b *BTreePage) SetParentPageID(id common.PageID) {
	b.putU32(btreeParentOffset, uint32(id))
}

func (b *BTreePage) BTreePageID() common.PageID {
	return common.PageID(b.u32(btreePageIDOffset))
}

func (b *BTreePage) setBTreePageID(id common.PageID) {
	b.putU32(btreePageIDOffset, uint32(id))
}

func (b *BTreePage) IsRoot() bool {
	return b.ParentPageID() == common.InvalidPageID
}

func (b *BTreePage) u32(offset int) uint32 {
	return binary.LittleEndian.Uint32(b.Data()[offset : offset+4])
}

func (b *BTreePage) putU32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(b.Data()[offset:offset+4], v)
}
