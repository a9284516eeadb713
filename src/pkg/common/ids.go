package common

import (
	"encoding/binary"
	"fmt"
)

const (
	// PageSize is the size of every block in the page file and of the
	// log flush window.
	PageSize = 4096

	// LogBufferSize bounds a single log flush; a log record must fit in
	// one buffer.
	LogBufferSize = PageSize
)

type PageID int32

const (
	InvalidPageID PageID = -1

	// HeaderPageID is reserved for the index-name -> root-page directory.
	HeaderPageID PageID = 0
)

func (p PageID) IsValid() bool {
	return p != InvalidPageID
}

/* a monotonically increasing counter. Smaller id == older transaction,
 * which is what the wait-die policy compares. */
type TxnID int32

const InvalidTxnID TxnID = -1

// RID names a record as (page, slot). It is the unit of tuple locking
// and the value type stored in B+ tree leaves.
type RID struct {
	PageID  PageID
	SlotNum int32
}

const SerializedRIDSize = 8

func (r RID) Compare(other RID) int {
	if r.PageID != other.PageID {
		if r.PageID < other.PageID {
			return -1
		}
		return 1
	}
	if r.SlotNum != other.SlotNum {
		if r.SlotNum < other.SlotNum {
			return -1
		}
		return 1
	}
	return 0
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.SlotNum)
}

func (r RID) SerializeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.SlotNum))
}

func (r *RID) DeserializeFrom(buf []byte) {
	r.PageID = PageID(binary.LittleEndian.Uint32(buf[0:4]))
	r.SlotNum = int32(binary.LittleEndian.Uint32(buf[4:8]))
}
