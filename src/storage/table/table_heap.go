package table

import (
	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/RelStore/src/bufferpool"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/recovery"
	"github.com/Blackdeer1524/RelStore/src/storage/page"
	"github.com/Blackdeer1524/RelStore/src/txns"
)

var ErrTxnAborted = errors.New("transaction was aborted")

// TableHeap is a doubly linked chain of table pages. Every mutation
// appends its log record and stamps the page LSN before the page is
// unpinned dirty, upholding the WAL rule together with the buffer
// pool's write-back gate.
type TableHeap struct {
	pool        *bufferpool.Manager
	lockManager *txns.LockManager
	logManager  *recovery.LogManager

	firstPageID common.PageID
}

var _ txns.UndoTarget = &TableHeap{}

// NewTableHeap creates the first page of a fresh heap.
func NewTableHeap(
	pool *bufferpool.Manager,
	lockManager *txns.LockManager,
	logManager *recovery.LogManager,
	txn *txns.Transaction,
) (*TableHeap, error) {
	p, err := pool.NewPage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the first heap page")
	}

	h := &TableHeap{
		pool:        pool,
		lockManager: lockManager,
		logManager:  logManager,
		firstPageID: p.ID(),
	}

	p.Lock()
	tp := page.AsTablePage(p)
	tp.Init(p.ID(), common.InvalidPageID)
	h.logNewPage(txn, tp, common.InvalidPageID)
	p.Unlock()

	pool.UnpinPage(h.firstPageID, true)

	return h, nil
}

// OpenTableHeap attaches to an existing heap rooted at firstPageID.
func OpenTableHeap(
	pool *bufferpool.Manager,
	lockManager *txns.LockManager,
	logManager *recovery.LogManager,
	firstPageID common.PageID,
) *TableHeap {
	return &TableHeap{
		pool:        pool,
		lockManager: lockManager,
		logManager:  logManager,
		firstPageID: firstPageID,
	}
}

func (h *TableHeap) FirstPageID() common.PageID {
	return h.firstPageID
}

func (h *TableHeap) logNewPage(
	txn *txns.Transaction,
	tp *page.TablePage,
	prevPageID common.PageID,
) {
	if h.logManager == nil || !h.logManager.Enabled() {
		return
	}

	rec := recovery.NewNewPageRecord(
		txn.ID(),
		txn.PrevLSN(),
		prevPageID,
		common.RID{PageID: tp.ID()},
	)
	lsn, err := h.logManager.AppendLogRecord(rec)
	if err != nil {
		return
	}
	txn.SetPrevLSN(lsn)
	tp.SetLSN(lsn)
}

func (h *TableHeap) logTuple(
	t recovery.LogRecordType,
	txn *txns.Transaction,
	tp *page.TablePage,
	rid common.RID,
	tuple []byte,
) {
	if h.logManager == nil || !h.logManager.Enabled() {
		return
	}

	rec := recovery.NewTupleRecord(t, txn.ID(), txn.PrevLSN(), rid, tuple)
	lsn, err := h.logManager.AppendLogRecord(rec)
	if err != nil {
		return
	}
	txn.SetPrevLSN(lsn)
	tp.SetLSN(lsn)
}

func (h *TableHeap) lockExclusive(txn *txns.Transaction, rid common.RID) bool {
	if h.lockManager == nil {
		return true
	}
	if txn.IsExclusiveLocked(rid) {
		return true
	}
	if txn.IsSharedLocked(rid) {
		return h.lockManager.LockUpgrade(txn, rid)
	}
	return h.lockManager.LockExclusive(txn, rid)
}

// InsertTuple finds the first page in the chain with room, extending
// the chain when none has. The new record is locked exclusively for the
// inserting transaction.
func (h *TableHeap) InsertTuple(txn *txns.Transaction, tuple []byte) (common.RID, error) {
	pageID := h.firstPageID

	for {
		p, err := h.pool.FetchPage(pageID)
		if err != nil {
			return common.RID{}, err
		}

		p.Lock()
		tp := page.AsTablePage(p)

		if slot, ok := tp.InsertTuple(tuple); ok {
			rid := common.RID{PageID: pageID, SlotNum: slot}
			h.logTuple(recovery.TypeInsert, txn, tp, rid, tuple)
			p.Unlock()
			h.pool.UnpinPage(pageID, true)

			if !h.lockExclusive(txn, rid) {
				return common.RID{}, ErrTxnAborted
			}
			txn.AppendWriteRecord(txns.WriteRecord{
				RID:    rid,
				Type:   txns.WriteInsert,
				Target: h,
			})

			return rid, nil
		}

		next := tp.NextPageID()
		if next.IsValid() {
			p.Unlock()
			h.pool.UnpinPage(pageID, false)
			pageID = next
			continue
		}

		newPage, err := h.pool.NewPage()
		if err != nil {
			p.Unlock()
			h.pool.UnpinPage(pageID, false)
			return common.RID{}, err
		}

		newPage.Lock()
		newTable := page.AsTablePage(newPage)
		newTable.Init(newPage.ID(), pageID)
		h.logNewPage(txn, newTable, pageID)
		tp.SetNextPageID(newPage.ID())
		newPage.Unlock()
		p.Unlock()

		h.pool.UnpinPage(pageID, true)
		pageID = newPage.ID()
		h.pool.UnpinPage(pageID, true)
	}
}

// MarkDelete tombstones the record; the bytes go away at commit.
func (h *TableHeap) MarkDelete(txn *txns.Transaction, rid common.RID) error {
	if !h.lockExclusive(txn, rid) {
		return ErrTxnAborted
	}

	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}

	p.Lock()
	tp := page.AsTablePage(p)
	tuple, ok := tp.GetTuple(rid.SlotNum)
	if !ok || !tp.MarkDelete(rid.SlotNum) {
		p.Unlock()
		h.pool.UnpinPage(rid.PageID, false)
		return errors.Wrapf(bufferpool.ErrNoSuchPage, "no tuple at %v", rid)
	}
	h.logTuple(recovery.TypeMarkDelete, txn, tp, rid, tuple)
	p.Unlock()
	h.pool.UnpinPage(rid.PageID, true)

	txn.AppendWriteRecord(txns.WriteRecord{
		RID:      rid,
		Type:     txns.WriteDelete,
		OldTuple: tuple,
		Target:   h,
	})

	return nil
}

// UpdateTuple replaces the record in place, remembering the old image
// for undo.
func (h *TableHeap) UpdateTuple(txn *txns.Transaction, rid common.RID, newTuple []byte) error {
	if !h.lockExclusive(txn, rid) {
		return ErrTxnAborted
	}

	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}

	p.Lock()
	tp := page.AsTablePage(p)
	oldTuple, ok := tp.GetTuple(rid.SlotNum)
	if !ok || !tp.UpdateTuple(rid.SlotNum, newTuple) {
		p.Unlock()
		h.pool.UnpinPage(rid.PageID, false)
		return errors.Wrapf(bufferpool.ErrNoSuchPage, "cannot update tuple at %v", rid)
	}

	if h.logManager != nil && h.logManager.Enabled() {
		rec := recovery.NewUpdateRecord(txn.ID(), txn.PrevLSN(), rid, oldTuple, newTuple)
		if lsn, err := h.logManager.AppendLogRecord(rec); err == nil {
			txn.SetPrevLSN(lsn)
			tp.SetLSN(lsn)
		}
	}
	p.Unlock()
	h.pool.UnpinPage(rid.PageID, true)

	txn.AppendWriteRecord(txns.WriteRecord{
		RID:      rid,
		Type:     txns.WriteUpdate,
		OldTuple: oldTuple,
		Target:   h,
	})

	return nil
}

// GetTuple reads the record under a shared lock.
func (h *TableHeap) GetTuple(txn *txns.Transaction, rid common.RID) ([]byte, error) {
	if h.lockManager != nil &&
		!txn.IsSharedLocked(rid) && !txn.IsExclusiveLocked(rid) {
		if !h.lockManager.LockShared(txn, rid) {
			return nil, ErrTxnAborted
		}
	}

	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return nil, err
	}

	p.RLock()
	tp := page.AsTablePage(p)
	tuple, ok := tp.GetTuple(rid.SlotNum)
	p.RUnlock()
	h.pool.UnpinPage(rid.PageID, false)

	if !ok {
		return nil, errors.Wrapf(bufferpool.ErrNoSuchPage, "no tuple at %v", rid)
	}

	return tuple, nil
}

// ApplyDelete physically removes a tombstoned record; the commit path
// calls it for every MarkDelete in the write set.
func (h *TableHeap) ApplyDelete(txn *txns.Transaction, rid common.RID) error {
	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}

	p.Lock()
	tp := page.AsTablePage(p)
	tuple, _ := tp.GetTupleRaw(rid.SlotNum)
	tp.ApplyDelete(rid.SlotNum)
	h.logTuple(recovery.TypeApplyDelete, txn, tp, rid, tuple)
	p.Unlock()
	h.pool.UnpinPage(rid.PageID, true)

	return nil
}

// RollbackInsert undoes an insert during abort.
func (h *TableHeap) RollbackInsert(txn *txns.Transaction, rid common.RID) error {
	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}

	p.Lock()
	tp := page.AsTablePage(p)
	tuple, _ := tp.GetTupleRaw(rid.SlotNum)
	tp.ApplyDelete(rid.SlotNum)
	h.logTuple(recovery.TypeApplyDelete, txn, tp, rid, tuple)
	p.Unlock()
	h.pool.UnpinPage(rid.PageID, true)

	return nil
}

// RollbackDelete clears a tombstone during abort.
func (h *TableHeap) RollbackDelete(txn *txns.Transaction, rid common.RID) error {
	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}

	p.Lock()
	tp := page.AsTablePage(p)
	tp.RollbackDelete(rid.SlotNum)
	tuple, _ := tp.GetTuple(rid.SlotNum)
	h.logTuple(recovery.TypeRollbackDelete, txn, tp, rid, tuple)
	p.Unlock()
	h.pool.UnpinPage(rid.PageID, true)

	return nil
}

// RollbackUpdate restores the old image during abort.
func (h *TableHeap) RollbackUpdate(txn *txns.Transaction, rid common.RID, oldTuple []byte) error {
	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}

	p.Lock()
	tp := page.AsTablePage(p)
	newTuple, _ := tp.GetTuple(rid.SlotNum)
	tp.UpdateTuple(rid.SlotNum, oldTuple)
	if h.logManager != nil && h.logManager.Enabled() {
		rec := recovery.NewUpdateRecord(txn.ID(), txn.PrevLSN(), rid, newTuple, oldTuple)
		if lsn, err := h.logManager.AppendLogRecord(rec); err == nil {
			txn.SetPrevLSN(lsn)
			tp.SetLSN(lsn)
		}
	}
	p.Unlock()
	h.pool.UnpinPage(rid.PageID, true)

	return nil
}
