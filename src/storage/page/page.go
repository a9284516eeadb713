package page

import (
	"encoding/binary"
	"sync"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

// Every typed page layout (table, B+ tree, header) keeps the LSN of the
// last log record applied to it at this offset.
const lsnOffset = 4

// Page is one buffer frame: a PageSize byte block plus the frame
// metadata the buffer pool tracks. The latch protects the bytes; pin
// count and dirtiness are guarded by the buffer pool mutex.
type Page struct {
	latch sync.RWMutex

	data    [common.PageSize]byte
	id      common.PageID
	isDirty bool
}

func NewPage() *Page {
	return &Page{id: common.InvalidPageID}
}

func (p *Page) Data() []byte {
	return p.data[:]
}

func (p *Page) ID() common.PageID {
	return p.id
}

func (p *Page) SetID(id common.PageID) {
	p.id = id
}

func (p *Page) IsDirty() bool {
	return p.isDirty
}

func (p *Page) SetDirty(dirty bool) {
	p.isDirty = dirty
}

func (p *Page) GetLSN() common.LSN {
	return common.LSN(binary.LittleEndian.Uint32(p.data[lsnOffset : lsnOffset+4]))
}

func (p *Page) SetLSN(lsn common.LSN) {
	binary.LittleEndian.PutUint32(p.data[lsnOffset:lsnOffset+4], uint32(lsn))
}

// Reset zeroes the block for frame reuse.
func (p *Page) Reset() {
	clear(p.data[:])
	p.id = common.InvalidPageID
	p.isDirty = false
}

func (p *Page) Lock()    { p.latch.Lock() }
func (p *Page) Unlock()  { p.latch.Unlock() }
func (p *Page) RLock()   { p.latch.RLock() }
func (p *Page) RUnlock() { p.latch.RUnlock() }
