package recovery

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/disk"
)

var ErrRecordTooLarge = errors.New("log record exceeds the log buffer")

// LogManager appends records into an in-memory buffer and flushes them
// with a single background worker. Two buffers alternate: appends go to
// the active one while the flusher drains its full twin. Flushes are
// triggered by a timer, by a full buffer, and by explicit force from
// commits and the buffer-pool WAL gate.
type LogManager struct {
	mu sync.Mutex

	diskManager *disk.Manager

	logBuffer   []byte
	flushBuffer []byte
	offset      int

	nextLSN       common.LSN
	persistentLSN *common.AtomicLSN

	// replaced-on-broadcast channels, closed by the flusher
	drained chan struct{}
	flushed chan struct{}

	flushRequest chan struct{}

	enabled atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	flushTimeout time.Duration
	log          *zap.SugaredLogger
}

func NewLogManager(
	diskManager *disk.Manager,
	flushTimeout time.Duration,
	log *zap.SugaredLogger,
) *LogManager {
	return &LogManager{
		diskManager:   diskManager,
		logBuffer:     make([]byte, common.LogBufferSize),
		flushBuffer:   make([]byte, common.LogBufferSize),
		nextLSN:       1,
		persistentLSN: common.NewAtomicLSN(0),
		drained:       make(chan struct{}),
		flushed:       make(chan struct{}),
		flushRequest:  make(chan struct{}, 1),
		done:          make(chan struct{}),
		flushTimeout:  flushTimeout,
		log:           log,
	}
}

func (m *LogManager) Enabled() bool {
	return m.enabled.Load()
}

func (m *LogManager) DurableLSN() common.LSN {
	return m.persistentLSN.Load()
}

func (m *LogManager) NextLSN() common.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.nextLSN
}

// SetNextLSN seeds the counter after recovery replayed the log.
func (m *LogManager) SetNextLSN(lsn common.LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLSN = lsn
	m.persistentLSN.Store(lsn - 1)
}

// RunFlushThread enables logging and starts the background flusher.
func (m *LogManager) RunFlushThread() {
	if m.enabled.Swap(true) {
		return
	}

	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.flushLoop()
}

// StopFlushThread disables logging, joins the worker and then drains
// the buffer one last time.
func (m *LogManager) StopFlushThread() {
	if !m.enabled.Swap(false) {
		return
	}

	close(m.done)
	m.wg.Wait()

	m.flushOnce()
}

func (m *LogManager) flushLoop() {
	defer m.wg.Done()

	timer := time.NewTimer(m.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-timer.C:
		case <-m.flushRequest:
		}

		m.flushOnce()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.flushTimeout)
	}
}

// flushOnce swaps the buffers under the mutex and writes the drained
// one out with the mutex released.
func (m *LogManager) flushOnce() {
	m.mu.Lock()

	if m.offset == 0 {
		m.mu.Unlock()
		return
	}

	m.logBuffer, m.flushBuffer = m.flushBuffer, m.logBuffer
	flushSize := m.offset
	maxLSN := m.nextLSN - 1
	m.offset = 0

	close(m.drained)
	m.drained = make(chan struct{})

	m.mu.Unlock()

	if err := m.diskManager.WriteLog(m.flushBuffer[:flushSize]); err != nil {
		if m.log != nil {
			m.log.Errorw("log flush failed", "error", err)
		}
		return
	}

	m.persistentLSN.Store(maxLSN)

	m.mu.Lock()
	close(m.flushed)
	m.flushed = make(chan struct{})
	m.mu.Unlock()
}

func (m *LogManager) wakeFlusher() {
	select {
	case m.flushRequest <- struct{}{}:
	default:
	}
}

// AppendLogRecord assigns the record its LSN and serializes it into the
// active buffer, waiting for the flusher when the buffer cannot take
// the record. A record landing exactly on the buffer boundary counts as
// not fitting.
func (m *LogManager) AppendLogRecord(r *LogRecord) (common.LSN, error) {
	if r.Size >= common.LogBufferSize {
		return common.InvalidLSN, ErrRecordTooLarge
	}

	m.mu.Lock()
	for m.offset+int(r.Size) >= common.LogBufferSize {
		drained := m.drained
		m.wakeFlusher()
		m.mu.Unlock()

		select {
		case <-drained:
		case <-time.After(m.flushTimeout):
		}

		m.mu.Lock()
	}

	r.LSN = m.nextLSN
	m.nextLSN++
	r.SerializeTo(m.logBuffer[m.offset:])
	m.offset += int(r.Size)
	m.mu.Unlock()

	return r.LSN, nil
}

// WaitLogToDisk blocks until every record up to lsn is durable. With
// force set, the flusher is woken instead of waiting for its timer.
func (m *LogManager) WaitLogToDisk(lsn common.LSN, force bool) {
	for lsn > m.persistentLSN.Load() {
		m.mu.Lock()
		flushed := m.flushed
		m.mu.Unlock()

		if force {
			m.wakeFlusher()
		}

		select {
		case <-flushed:
		case <-time.After(m.flushTimeout):
		}
	}
}
