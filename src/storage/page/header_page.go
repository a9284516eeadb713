package page

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/pkg/optional"
)

// HeaderPage is page 0 of the database file: the directory from index
// name to root page id, plus the database instance id. Layout:
//
//	| pageID(4) | lsn(4) | instanceID(16) | recordCount(4)
//	| (name(32), rootPageID(4))...
type HeaderPage struct {
	*Page
}

const (
	headerInstanceIDOffset  = 8
	headerRecordCountOffset = 24
	headerRecordsOffset     = 28

	headerNameSize   = 32
	headerRecordSize = headerNameSize + 4

	maxHeaderRecords = (common.PageSize - headerRecordsOffset) / headerRecordSize
)

func AsHeaderPage(p *Page) *HeaderPage {
	return &HeaderPage{Page: p}
}

func (h *HeaderPage) Init(instanceID uuid.UUID) {
	binary.LittleEndian.PutUint32(h.Data()[0:4], uint32(common.HeaderPageID))
	h.SetLSN(0)
	copy(h.Data()[headerInstanceIDOffset:headerInstanceIDOffset+16], instanceID[:])
	h.setRecordCount(0)
}

func (h *HeaderPage) InstanceID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], h.Data()[headerInstanceIDOffset:headerInstanceIDOffset+16])
	return id
}

func (h *HeaderPage) RecordCount() int {
	return int(binary.LittleEndian.Uint32(
		h.Data()[headerRecordCountOffset : headerRecordCountOffset+4],
	))
}

func (h *HeaderPage) setRecordCount(n int) {
	binary.LittleEndian.PutUint32(
		h.Data()[headerRecordCountOffset:headerRecordCountOffset+4],
		uint32(n),
	)
}

func (h *HeaderPage) recordName(i int) string {
	start := headerRecordsOffset + i*headerRecordSize
	raw := h.Data()[start : start+headerNameSize]
	if idx := bytes.IndexByte(raw, 0); idx >= 0 {
		raw = raw[:idx]
	}
	return string(raw)
}

func (h *HeaderPage) recordRoot(i int) common.PageID {
	start := headerRecordsOffset + i*headerRecordSize + headerNameSize
	return common.PageID(binary.LittleEndian.Uint32(h.Data()[start : start+4]))
}

func (h *HeaderPage) setRecordRoot(i int, root common.PageID) {
	start := headerRecordsOffset + i*headerRecordSize + headerNameSize
	binary.LittleEndian.PutUint32(h.Data()[start:start+4], uint32(root))
}

func (h *HeaderPage) findRecord(name string) int {
	for i := 0; i < h.RecordCount(); i++ {
		if h.recordName(i) == name {
			return i
		}
	}
	return -1
}

// InsertRecord registers a new index. False when the name is taken, too
// long, or the directory is full.
func (h *HeaderPage) InsertRecord(name string, root common.PageID) bool {
	if len(name) == 0 || len(name) > headerNameSize {
		return false
	}
	if h.findRecord(name) >= 0 {
		return false
	}

	n := h.RecordCount()
	if n >= maxHeaderRecords {
		return false
	}

	start := headerRecordsOffset + n*headerRecordSize
	nameBuf := h.Data()[start : start+headerNameSize]
	clear(nameBuf)
	copy(nameBuf, name)
	h.setRecordRoot(n, root)
	h.setRecordCount(n + 1)

	return true
}

// UpdateRecord repoints an existing index at a new root.
func (h *HeaderPage) UpdateRecord(name string, root common.PageID) bool {
	i := h.findRecord(name)
	if i < 0 {
		return false
	}

	h.setRecordRoot(i, root)

	return true
}

// DeleteRecord removes an index entry, compacting the record array.
func (h *HeaderPage) DeleteRecord(name string) bool {
	i := h.findRecord(name)
	if i < 0 {
		return false
	}

	n := h.RecordCount()
	for j := i; j < n-1; j++ {
		src := headerRecordsOffset + (j+1)*headerRecordSize
		dst := headerRecordsOffset + j*headerRecordSize
		copy(h.Data()[dst:dst+headerRecordSize], h.Data()[src:src+headerRecordSize])
	}
	h.setRecordCount(n - 1)

	return true
}

func (h *HeaderPage) GetRootID(name string) optional.Optional[common.PageID] {
	i := h.findRecord(name)
	if i < 0 {
		return optional.None[common.PageID]()
	}

	return optional.Some(h.recordRoot(i))
}

// NamedRoots lists the directory in insertion order.
func (h *HeaderPage) NamedRoots() []NamedRoot {
	out := make([]NamedRoot, 0, h.RecordCount())
	for i := 0; i < h.RecordCount(); i++ {
		out = append(out, NamedRoot{
			Name: h.recordName(i),
			Root: h.recordRoot(i),
		})
	}
	return out
}

type NamedRoot struct {
	Name string
	Root common.PageID
}
