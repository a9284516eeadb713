package recovery

import (
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelStore/src/bufferpool"
	"github.com/Blackdeer1524/RelStore/src/pkg/assert"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/disk"
	"github.com/Blackdeer1524/RelStore/src/storage/page"
)

var ErrCorruptLog = errors.New("log record failed validation")

// LogRecovery replays the write-ahead log after a crash: a serial redo
// pass from the beginning of the log, then undo of every transaction
// still active at the crash point. It runs strictly before logging is
// re-enabled.
type LogRecovery struct {
	diskManager *disk.Manager
	pool        *bufferpool.Manager

	activeTxn  map[common.TxnID]common.LSN
	lsnMapping map[common.LSN]int64

	buffer []byte
	maxLSN common.LSN

	log *zap.SugaredLogger
}

func NewLogRecovery(
	diskManager *disk.Manager,
	pool *bufferpool.Manager,
	log *zap.SugaredLogger,
) *LogRecovery {
	return &LogRecovery{
		diskManager: diskManager,
		pool:        pool,
		activeTxn:   make(map[common.TxnID]common.LSN),
		lsnMapping:  make(map[common.LSN]int64),
		buffer:      make([]byte, common.LogBufferSize),
		log:         log,
	}
}

// ActiveTxns exposes the transactions that survived redo without a
// commit or abort record; they are the undo candidates.
func (r *LogRecovery) ActiveTxns() map[common.TxnID]common.LSN {
	return r.activeTxn
}

// MaxLSN is the highest LSN seen during redo; the log manager resumes
// right after it.
func (r *LogRecovery) MaxLSN() common.LSN {
	return r.maxLSN
}

// Redo scans the log sequentially, prefetching a buffer at a time. A
// record is replayed onto its table page only when the page has not
// seen it yet (page LSN < record LSN). A partial record at the end of
// the buffer is re-read at the start of the next chunk.
func (r *LogRecovery) Redo() error {
	var fileOffset int64

	for {
		ok, err := r.diskManager.ReadLog(r.buffer, fileOffset)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		bufferOffset := 0
		for {
			var rec LogRecord
			if !rec.DeserializeFrom(r.buffer[bufferOffset:]) {
				break
			}

			if err := r.redoRecord(&rec, fileOffset+int64(bufferOffset)); err != nil {
				return err
			}

			bufferOffset += int(rec.Size)
		}

		if bufferOffset == 0 {
			// Nothing parseable at the head of a fresh chunk: either
			// the log tail or corruption; recovery stops here.
			return nil
		}

		fileOffset += int64(bufferOffset)
	}
}

func (r *LogRecovery) redoRecord(rec *LogRecord, offset int64) error {
	if rec.LSN > r.maxLSN {
		r.maxLSN = rec.LSN
	}

	r.lsnMapping[rec.LSN] = offset
	r.activeTxn[rec.TxnID] = rec.LSN

	switch rec.Type {
	case TypeBegin:
	case TypeCommit, TypeAbort:
		delete(r.activeTxn, rec.TxnID)
	case TypeNewPage:
		return r.redoNewPage(rec)
	case TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete, TypeUpdate:
		return r.redoTupleRecord(rec)
	default:
		return errors.Wrapf(ErrCorruptLog, "lsn %d has type %d", rec.LSN, rec.Type)
	}

	return nil
}

func (r *LogRecovery) redoTupleRecord(rec *LogRecord) error {
	r.diskManager.EnsureAllocated(rec.RID.PageID)

	p, err := r.pool.FetchPage(rec.RID.PageID)
	if err != nil {
		return err
	}
	defer r.pool.UnpinPage(rec.RID.PageID, true)

	tp := page.AsTablePage(p)
	if tp.GetLSN() >= rec.LSN {
		// the page already reflects this change
		return nil
	}

	switch rec.Type {
	case TypeInsert:
		tp.InsertTupleAt(rec.RID.SlotNum, rec.Tuple)
	case TypeMarkDelete:
		tp.MarkDelete(rec.RID.SlotNum)
	case TypeApplyDelete:
		tp.ApplyDelete(rec.RID.SlotNum)
	case TypeRollbackDelete:
		tp.RollbackDelete(rec.RID.SlotNum)
	case TypeUpdate:
		tp.UpdateTuple(rec.RID.SlotNum, rec.NewTuple)
	}
	tp.SetLSN(rec.LSN)

	return nil
}

func (r *LogRecovery) redoNewPage(rec *LogRecord) error {
	r.diskManager.EnsureAllocated(rec.RID.PageID)
	r.diskManager.EnsureAllocated(rec.PrevPageID)

	p, err := r.pool.FetchPage(rec.RID.PageID)
	if err != nil {
		return err
	}
	defer r.pool.UnpinPage(rec.RID.PageID, true)

	tp := page.AsTablePage(p)
	if tp.GetLSN() >= rec.LSN {
		return nil
	}

	tp.Init(rec.RID.PageID, rec.PrevPageID)
	tp.SetLSN(rec.LSN)

	if !rec.PrevPageID.IsValid() {
		return nil
	}

	prev, err := r.pool.FetchPage(rec.PrevPageID)
	if err != nil {
		return err
	}
	prevTable := page.AsTablePage(prev)
	if prevTable.NextPageID() != rec.RID.PageID {
		prevTable.SetNextPageID(rec.RID.PageID)
		r.pool.UnpinPage(rec.PrevPageID, true)
	} else {
		r.pool.UnpinPage(rec.PrevPageID, false)
	}

	return nil
}

// Undo walks each surviving transaction's prev-LSN chain backwards,
// inverting every change until its BEGIN record.
func (r *LogRecovery) Undo() error {
	for txnID, lastLSN := range r.activeTxn {
		lsn := lastLSN
		for lsn.IsValid() {
			offset, ok := r.lsnMapping[lsn]
			if !ok {
				return errors.Wrapf(ErrCorruptLog, "lsn %d has no mapped offset", lsn)
			}

			if _, err := r.diskManager.ReadLog(r.buffer, offset); err != nil {
				return err
			}

			var rec LogRecord
			if !rec.DeserializeFrom(r.buffer) {
				return errors.Wrapf(ErrCorruptLog, "undo of txn %d at lsn %d", txnID, lsn)
			}
			assert.Assert(rec.LSN == lsn, "lsn mapping is inconsistent")

			if err := r.undoRecord(&rec); err != nil {
				return err
			}

			if rec.Type == TypeBegin {
				break
			}
			lsn = rec.PrevLSN
		}
	}

	clear(r.activeTxn)

	return nil
}

func (r *LogRecovery) undoRecord(rec *LogRecord) error {
	switch rec.Type {
	case TypeBegin, TypeCommit, TypeAbort, TypeNewPage:
		return nil
	}

	p, err := r.pool.FetchPage(rec.RID.PageID)
	if err != nil {
		return err
	}
	defer r.pool.UnpinPage(rec.RID.PageID, true)

	tp := page.AsTablePage(p)
	switch rec.Type {
	case TypeInsert:
		tp.ApplyDelete(rec.RID.SlotNum)
	case TypeMarkDelete:
		tp.RollbackDelete(rec.RID.SlotNum)
	case TypeApplyDelete:
		tp.InsertTupleAt(rec.RID.SlotNum, rec.Tuple)
	case TypeRollbackDelete:
		tp.MarkDelete(rec.RID.SlotNum)
	case TypeUpdate:
		tp.UpdateTuple(rec.RID.SlotNum, rec.OldTuple)
	}

	return nil
}
