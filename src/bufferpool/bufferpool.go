package bufferpool

import (
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelStore/src/pkg/assert"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/disk"
	"github.com/Blackdeer1524/RelStore/src/storage/hash"
	"github.com/Blackdeer1524/RelStore/src/storage/page"
)

const noFrame = ^uint64(0)

var (
	ErrNoFreeFrame = errors.New("all buffer frames are pinned")
	ErrNoSuchPage  = errors.New("page is not resident in the buffer pool")
)

// WAL is the slice of the log manager the write-back path needs: a
// dirty page may not reach the page file before every log record up to
// its LSN is durable.
type WAL interface {
	Enabled() bool
	DurableLSN() common.LSN
	WaitLogToDisk(lsn common.LSN, force bool)
}

// pageTableBucketSize bounds the items per extendible-hash bucket in
// the page table.
const pageTableBucketSize = 32

type frame struct {
	page     *page.Page
	pinCount int
}

// Manager is the buffer pool: a fixed set of frames over the disk
// manager, with an extendible-hash page table and LRU replacement of
// unpinned pages. One mutex guards all bookkeeping; page latches are
// orthogonal.
type Manager struct {
	mu sync.Mutex

	poolSize    uint64
	frames      []frame
	emptyFrames []uint64
	pageTable   *hash.Extendible[common.PageID, uint64]
	replacer    *LRUReplacer[common.PageID]

	diskManager *disk.Manager
	wal         WAL
	log         *zap.SugaredLogger
}

func New(
	poolSize uint64,
	diskManager *disk.Manager,
	wal WAL,
	log *zap.SugaredLogger,
) *Manager {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")

	emptyFrames := make([]uint64, poolSize)
	frames := make([]frame, poolSize)
	for i := uint64(0); i < poolSize; i++ {
		emptyFrames[i] = i
		frames[i].page = page.NewPage()
	}

	return &Manager{
		poolSize:    poolSize,
		frames:      frames,
		emptyFrames: emptyFrames,
		pageTable:   hash.NewExtendible[common.PageID, uint64](pageTableBucketSize, hash.PageIDHash),
		replacer:    NewLRUReplacer[common.PageID](),
		diskManager: diskManager,
		wal:         wal,
		log:         log,
	}
}

// FetchPage pins the requested page, reading it from disk if it is not
// resident. Returns ErrNoFreeFrame when every frame is pinned.
func (m *Manager) FetchPage(pageID common.PageID) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID := m.pageTable.Find(pageID); frameID.IsSome() {
		f := &m.frames[frameID.Unwrap()]
		f.pinCount++
		m.replacer.Erase(pageID)

		return f.page, nil
	}

	frameID, err := m.obtainFrame()
	if err != nil {
		return nil, err
	}

	f := &m.frames[frameID]
	if err := m.diskManager.ReadPage(pageID, f.page.Data()); err != nil {
		f.page.Reset()
		m.emptyFrames = append(m.emptyFrames, frameID)

		return nil, err
	}

	f.page.SetID(pageID)
	f.page.SetDirty(false)
	f.pinCount = 1
	m.pageTable.Insert(pageID, frameID)

	return f.page, nil
}

// NewPage allocates a fresh page id, pins a zeroed frame for it and
// marks it dirty.
func (m *Manager) NewPage() (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, err := m.obtainFrame()
	if err != nil {
		return nil, err
	}

	pageID := m.diskManager.AllocatePage()

	f := &m.frames[frameID]
	f.page.Reset()
	f.page.SetID(pageID)
	f.page.SetDirty(true)
	f.pinCount = 1
	m.pageTable.Insert(pageID, frameID)

	return f.page, nil
}

// UnpinPage drops one pin. The dirty flag is sticky: once set it stays
// until the frame is flushed or reused.
func (m *Manager) UnpinPage(pageID common.PageID, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID := m.pageTable.Find(pageID)
	if frameID.IsNone() {
		return false
	}

	f := &m.frames[frameID.Unwrap()]
	if f.pinCount <= 0 {
		return false
	}

	if isDirty {
		f.page.SetDirty(true)
	}

	f.pinCount--
	if f.pinCount == 0 {
		m.replacer.Insert(pageID)
	}

	return true
}

// FlushPage writes a resident page out and clears its dirty bit.
func (m *Manager) FlushPage(pageID common.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID := m.pageTable.Find(pageID)
	if frameID.IsNone() {
		return ErrNoSuchPage
	}

	f := &m.frames[frameID.Unwrap()]
	if err := m.writeBack(f); err != nil {
		return err
	}

	return nil
}

func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.frames {
		f := &m.frames[i]
		if !f.page.ID().IsValid() || !f.page.IsDirty() {
			continue
		}
		if err := m.writeBack(f); err != nil {
			return err
		}
	}

	return nil
}

// DeletePage drops a page from the pool and tells the disk manager to
// deallocate it. Fails while the page is pinned.
func (m *Manager) DeletePage(pageID common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID := m.pageTable.Find(pageID)
	if frameID.IsNone() {
		m.diskManager.DeallocatePage(pageID)
		return true
	}

	f := &m.frames[frameID.Unwrap()]
	if f.pinCount > 0 {
		return false
	}

	m.pageTable.Remove(pageID)
	m.replacer.Erase(pageID)
	f.page.Reset()
	f.pinCount = 0
	m.emptyFrames = append(m.emptyFrames, frameID.Unwrap())
	m.diskManager.DeallocatePage(pageID)

	return true
}

// PinCount reports the pin count of a resident page; used by tests and
// invariant checks.
func (m *Manager) PinCount(pageID common.PageID) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID := m.pageTable.Find(pageID)
	if frameID.IsNone() {
		return 0, false
	}

	return m.frames[frameID.Unwrap()].pinCount, true
}

// PinnedPageIDs lists resident pages with a positive pin count; tests
// use it to prove operations release everything they took.
func (m *Manager) PinnedPageIDs() []common.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []common.PageID
	for i := range m.frames {
		f := &m.frames[i]
		if f.pinCount > 0 && f.page.ID().IsValid() {
			out = append(out, f.page.ID())
		}
	}
	return out
}

// obtainFrame reserves a frame for a new resident page: the free list
// first, then an LRU victim (written back if dirty). Caller holds m.mu.
func (m *Manager) obtainFrame() (uint64, error) {
	if len(m.emptyFrames) > 0 {
		frameID := m.emptyFrames[0]
		m.emptyFrames = m.emptyFrames[1:]

		return frameID, nil
	}

	victimID := m.replacer.Victim()
	if victimID.IsNone() {
		return noFrame, ErrNoFreeFrame
	}

	frameID := m.pageTable.Find(victimID.Unwrap()).
		Expect("victim page must be present in the page table")

	f := &m.frames[frameID]
	assert.Assert(f.pinCount == 0, "victim frame is pinned")

	if f.page.IsDirty() {
		if err := m.writeBack(f); err != nil {
			m.replacer.Insert(victimID.Unwrap())

			return noFrame, err
		}
	}

	m.pageTable.Remove(victimID.Unwrap())
	f.page.Reset()

	return frameID, nil
}

// writeBack enforces the WAL rule before the page bytes leave the
// process. Caller holds m.mu.
func (m *Manager) writeBack(f *frame) error {
	if m.wal != nil && m.wal.Enabled() {
		if lsn := f.page.GetLSN(); lsn > m.wal.DurableLSN() {
			m.wal.WaitLogToDisk(lsn, true)
		}
	}

	if err := m.diskManager.WritePage(f.page.ID(), f.page.Data()); err != nil {
		if m.log != nil {
			m.log.Errorw("page write-back failed",
				"pageID", f.page.ID(),
				"error", err,
			)
		}
		return err
	}

	f.page.SetDirty(false)

	return nil
}
