package disk

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

const openFlags = os.O_RDWR | os.O_CREATE

var ErrPageNotFound = errors.New("page is beyond the end of the database file")

// Manager owns the two files that make up a database: the fixed-size
// page store (<db>.db) and the append-only write-ahead log (<db>.log).
type Manager struct {
	fs afero.Fs

	dbPath  string
	logPath string

	dbFile  afero.File
	logFile afero.File

	nextPageID atomic.Int32
	logOffset  atomic.Int64

	mu sync.Mutex
}

func New(fs afero.Fs, dir, name string) (*Manager, error) {
	dbPath := filepath.Join(dir, name+".db")
	logPath := filepath.Join(dir, name+".log")

	dbFile, err := fs.OpenFile(filepath.Clean(dbPath), openFlags, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db file %s", dbPath)
	}

	logFile, err := fs.OpenFile(filepath.Clean(logPath), openFlags, 0600)
	if err != nil {
		_ = dbFile.Close()
		return nil, errors.Wrapf(err, "failed to open log file %s", logPath)
	}

	m := &Manager{
		fs:      fs,
		dbPath:  dbPath,
		logPath: logPath,
		dbFile:  dbFile,
		logFile: logFile,
	}

	dbInfo, err := dbFile.Stat()
	if err != nil {
		_ = m.Close()
		return nil, errors.Wrap(err, "failed to stat db file")
	}
	m.nextPageID.Store(int32(dbInfo.Size() / common.PageSize))

	logInfo, err := logFile.Stat()
	if err != nil {
		_ = m.Close()
		return nil, errors.Wrap(err, "failed to stat log file")
	}
	m.logOffset.Store(logInfo.Size())

	return m, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dbErr := m.dbFile.Close()
	logErr := m.logFile.Close()
	if dbErr != nil {
		return dbErr
	}
	return logErr
}

// AllocatePage hands out page ids monotonically. Deallocated ids are
// never reused.
func (m *Manager) AllocatePage() common.PageID {
	return common.PageID(m.nextPageID.Add(1) - 1)
}

// DeallocatePage is a bookkeeping no-op: the id space is append-only.
func (m *Manager) DeallocatePage(common.PageID) {}

// EnsureAllocated raises the allocation watermark to cover pageID.
// After a crash the counter is rebuilt from the page file size, which
// misses pages that only ever existed in the log; recovery re-extends
// the id space from the records it replays.
func (m *Manager) EnsureAllocated(pageID common.PageID) {
	if !pageID.IsValid() {
		return
	}
	for {
		cur := m.nextPageID.Load()
		if int32(pageID) < cur {
			return
		}
		if m.nextPageID.CompareAndSwap(cur, int32(pageID)+1) {
			return
		}
	}
}

func (m *Manager) ReadPage(pageID common.PageID, buf []byte) error {
	if len(buf) != common.PageSize {
		return errors.Errorf("page buffer has size %d, want %d", len(buf), common.PageSize)
	}
	if !pageID.IsValid() || pageID >= common.PageID(m.nextPageID.Load()) {
		return ErrPageNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	offset := int64(pageID) * common.PageSize
	n, err := m.dbFile.ReadAt(buf, offset)
	if err == io.EOF && n < common.PageSize {
		// Allocated but never written; the page reads back as zeroes.
		for i := n; i < common.PageSize; i++ {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read page %d", pageID)
	}

	return nil
}

func (m *Manager) WritePage(pageID common.PageID, buf []byte) error {
	if len(buf) != common.PageSize {
		return errors.Errorf("page buffer has size %d, want %d", len(buf), common.PageSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	offset := int64(pageID) * common.PageSize
	if _, err := m.dbFile.WriteAt(buf, offset); err != nil {
		return errors.Wrapf(err, "failed to write page %d", pageID)
	}

	return m.dbFile.Sync()
}

// ReadLog fills buf from the given log offset. Returns false at the end
// of the log; short reads at the tail succeed with the remainder zeroed.
func (m *Manager) ReadLog(buf []byte, offset int64) (bool, error) {
	if offset >= m.logOffset.Load() {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.logFile.ReadAt(buf, offset)
	if err == io.EOF {
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return n > 0, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to read log")
	}

	return true, nil
}

// WriteLog appends buf to the log file and syncs it. The WAL rule rests
// on the sync happening before this returns.
func (m *Manager) WriteLog(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	offset := m.logOffset.Load()
	if _, err := m.logFile.WriteAt(buf, offset); err != nil {
		return errors.Wrap(err, "failed to append to log")
	}
	if err := m.logFile.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync log")
	}
	m.logOffset.Add(int64(len(buf)))

	return nil
}

func (m *Manager) LogSize() int64 {
	return m.logOffset.Load()
}

func (m *Manager) NumPages() int32 {
	return m.nextPageID.Load()
}
