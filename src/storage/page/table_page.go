package page

import (
	"encoding/binary"

	"github.com/Blackdeer1524/RelStore/src/pkg/assert"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

// TablePage lays tuples out in a slotted scheme over a raw frame:
//
//	| pageID(4) | lsn(4) | prevPageID(4) | nextPageID(4)
//	| freeSpacePtr(4) | tupleCount(4) | (offset(4), size(4))...
//
// Tuple bytes grow downwards from the end of the block. The high bit of
// a slot's size is the delete tombstone.
type TablePage struct {
	*Page
}

const (
	tablePageIDOffset     = 0
	tablePrevPageOffset   = 8
	tableNextPageOffset   = 12
	tableFreeSpaceOffset  = 16
	tableTupleCountOffset = 20
	tableSlotArrayOffset  = 24

	tableSlotSize = 8

	deleteMask = uint32(1) << 31
)

func AsTablePage(p *Page) *TablePage {
	return &TablePage{Page: p}
}

func (t *TablePage) Init(pageID, prevPageID common.PageID) {
	t.putU32(tablePageIDOffset, uint32(pageID))
	t.SetLSN(0)
	t.putU32(tablePrevPageOffset, uint32(prevPageID))
	invalidNext := common.InvalidPageID
	t.putU32(tableNextPageOffset, uint32(invalidNext))
	t.putU32(tableFreeSpaceOffset, common.PageSize)
	t.putU32(tableTupleCountOffset, 0)
}

func (t *TablePage) TablePageID() common.PageID {
	return common.PageID(t.u32(tablePageIDOffset))
}

func (t *TablePage) PrevPageID() common.PageID {
	return common.PageID(t.u32(tablePrevPageOffset))
}

func (t *TablePage) SetPrevPageID(id common.PageID) {
	t.putU32(tablePrevPageOffset, uint32(id))
}

func (t *TablePage) NextPageID() common.PageID {
	return common.PageID(t.u32(tableNextPageOffset))
}

func (t *TablePage) SetNextPageID(id common.PageID) {
	t.putU32(tableNextPageOffset, uint32(id))
}

func (t *TablePage) TupleCount() int32 {
	return int32(t.u32(tableTupleCountOffset))
}

func (t *TablePage) freeSpacePtr() uint32 {
	return t.u32(tableFreeSpaceOffset)
}

func (t *TablePage) freeSpace() uint32 {
	return t.freeSpacePtr() - uint32(tableSlotArrayOffset) -
		uint32(t.TupleCount())*tableSlotSize
}

func (t *TablePage) slotOffset(slot int32) uint32 {
	return t.u32(tableSlotArrayOffset + int(slot)*tableSlotSize)
}

func (t *TablePage) slotSize(slot int32) uint32 {
	return t.u32(tableSlotArrayOffset + int(slot)*tableSlotSize + 4)
}

func (t *TablePage) setSlot(slot int32, offset, size uint32) {
	t.putU32(tableSlotArrayOffset+int(slot)*tableSlotSize, offset)
	t.putU32(tableSlotArrayOffset+int(slot)*tableSlotSize+4, size)
}

// InsertTuple places the tuple into the first empty slot, or a fresh
// one. Returns the slot number, or false when the page cannot hold the
// tuple.
func (t *TablePage) InsertTuple(tuple []byte) (int32, bool) {
	size := uint32(len(tuple))
	assert.Assert(size > 0 && size&deleteMask == 0, "bad tuple size %d", size)

	count := t.TupleCount()

	slot := int32(0)
	for ; slot < count; slot++ {
		if t.slotSize(slot) == 0 {
			break
		}
	}

	needed := size
	if slot == count {
		needed += tableSlotSize
	}
	if t.freeSpace() < needed {
		return 0, false
	}

	offset := t.freeSpacePtr() - size
	copy(t.Data()[offset:offset+size], tuple)
	t.putU32(tableFreeSpaceOffset, offset)
	t.setSlot(slot, offset, size)
	if slot == count {
		t.putU32(tableTupleCountOffset, uint32(count+1))
	}

	return slot, true
}

// InsertTupleAt places the tuple into a specific slot, growing the slot
// array as needed. Recovery uses it to redo inserts at their logged
// position.
func (t *TablePage) InsertTupleAt(slot int32, tuple []byte) bool {
	size := uint32(len(tuple))
	assert.Assert(size > 0 && size&deleteMask == 0, "bad tuple size %d", size)

	count := t.TupleCount()
	needed := size
	if slot >= count {
		needed += uint32(slot-count+1) * tableSlotSize
	} else if t.slotSize(slot) != 0 {
		return false
	}
	if t.freeSpace() < needed {
		return false
	}

	for s := count; s <= slot; s++ {
		t.setSlot(s, 0, 0)
	}
	if slot >= count {
		t.putU32(tableTupleCountOffset, uint32(slot+1))
	}

	offset := t.freeSpacePtr() - size
	copy(t.Data()[offset:offset+size], tuple)
	t.putU32(tableFreeSpaceOffset, offset)
	t.setSlot(slot, offset, size)

	return true
}

// MarkDelete sets the tombstone; the bytes stay in place until
// ApplyDelete.
func (t *TablePage) MarkDelete(slot int32) bool {
	if slot >= t.TupleCount() {
		return false
	}

	size := t.slotSize(slot)
	if size == 0 || size&deleteMask != 0 {
		return false
	}

	t.setSlot(slot, t.slotOffset(slot), size|deleteMask)

	return true
}

// RollbackDelete clears the tombstone set by MarkDelete.
func (t *TablePage) RollbackDelete(slot int32) bool {
	if slot >= t.TupleCount() {
		return false
	}

	size := t.slotSize(slot)
	if size&deleteMask == 0 {
		return false
	}

	t.setSlot(slot, t.slotOffset(slot), size&^deleteMask)

	return true
}

// ApplyDelete frees the slot for reuse. The tuple bytes become a hole;
// the page is never compacted, so the hole's space is not reused.
func (t *TablePage) ApplyDelete(slot int32) bool {
	if slot >= t.TupleCount() {
		return false
	}

	if t.slotSize(slot) == 0 {
		return false
	}

	t.setSlot(slot, 0, 0)

	return true
}

// UpdateTuple replaces the tuple in place when it fits into the old
// slot, otherwise relocates it into free space.
func (t *TablePage) UpdateTuple(slot int32, tuple []byte) bool {
	if slot >= t.TupleCount() {
		return false
	}

	oldSize := t.slotSize(slot)
	if oldSize == 0 || oldSize&deleteMask != 0 {
		return false
	}

	newSize := uint32(len(tuple))
	offset := t.slotOffset(slot)
	if newSize <= oldSize {
		copy(t.Data()[offset:offset+newSize], tuple)
		t.setSlot(slot, offset, newSize)
		return true
	}

	if t.freeSpace() < newSize {
		return false
	}

	newOffset := t.freeSpacePtr() - newSize
	copy(t.Data()[newOffset:newOffset+newSize], tuple)
	t.putU32(tableFreeSpaceOffset, newOffset)
	t.setSlot(slot, newOffset, newSize)

	return true
}

// GetTuple returns a copy of the live tuple at slot.
func (t *TablePage) GetTuple(slot int32) ([]byte, bool) {
	if slot >= t.TupleCount() {
		return nil, false
	}

	size := t.slotSize(slot)
	if size == 0 || size&deleteMask != 0 {
		return nil, false
	}

	offset := t.slotOffset(slot)
	out := make([]byte, size)
	copy(out, t.Data()[offset:offset+size])

	return out, true
}

// GetTupleRaw returns the bytes at slot even when the slot is
// tombstoned; the undo and apply-delete paths need the old image.
func (t *TablePage) GetTupleRaw(slot int32) ([]byte, bool) {
	if slot >= t.TupleCount() {
		return nil, false
	}

	size := t.slotSize(slot) &^ deleteMask
	if size == 0 {
		return nil, false
	}

	offset := t.slotOffset(slot)
	out := make([]byte, size)
	copy(out, t.Data()[offset:offset+size])

	return out, true
}

// IsDeleted reports whether the slot carries a tombstone.
func (t *TablePage) IsDeleted(slot int32) bool {
	if slot >= t.TupleCount() {
		return false
	}

	return t.slotSize(slot)&deleteMask != 0
}

func (t *TablePage) u32(offset int) uint32 {
	return binary.LittleEndian.Uint32(t.Data()[offset : offset+4])
}

func (t *TablePage) putU32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(t.Data()[offset:offset+4], v)
}
