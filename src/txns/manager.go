package txns

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelStore/src/bufferpool"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/recovery"
)

// TransactionManager assigns transaction ids and drives commit and
// abort: the commit record is forced to disk before Commit returns
// (group commit through the log manager), and abort rolls the write
// set back in reverse order.
type TransactionManager struct {
	nextTxnID atomic.Int32

	lockManager *LockManager
	logManager  *recovery.LogManager
	pool        *bufferpool.Manager

	mu         sync.Mutex
	activeTxns map[common.TxnID]*Transaction

	log *zap.SugaredLogger
}

func NewTransactionManager(
	lockManager *LockManager,
	logManager *recovery.LogManager,
	pool *bufferpool.Manager,
	log *zap.SugaredLogger,
) *TransactionManager {
	return &TransactionManager{
		lockManager: lockManager,
		logManager:  logManager,
		pool:        pool,
		activeTxns:  make(map[common.TxnID]*Transaction),
		log:         log,
	}
}

func (m *TransactionManager) Begin() *Transaction {
	id := common.TxnID(m.nextTxnID.Add(1) - 1)
	txn := NewTransaction(id)

	if m.logManager != nil && m.logManager.Enabled() {
		if lsn, err := m.logManager.AppendLogRecord(recovery.NewBeginRecord(id)); err == nil {
			txn.SetPrevLSN(lsn)
		}
	}

	m.mu.Lock()
	m.activeTxns[id] = txn
	m.mu.Unlock()

	return txn
}

func (m *TransactionManager) Commit(txn *Transaction) {
	txn.SetState(Committed)

	// tombstoned records become real deletions at commit
	for _, w := range txn.WriteSet() {
		if w.Type == WriteDelete && w.Target != nil {
			if err := w.Target.ApplyDelete(txn, w.RID); err != nil && m.log != nil {
				m.log.Errorw("apply-delete at commit failed",
					"txnID", txn.ID(), "rid", w.RID, "error", err)
			}
		}
	}

	if m.logManager != nil && m.logManager.Enabled() {
		rec := recovery.NewCommitRecord(txn.ID(), txn.PrevLSN())
		if lsn, err := m.logManager.AppendLogRecord(rec); err == nil {
			txn.SetPrevLSN(lsn)
			m.logManager.WaitLogToDisk(lsn, true)
		}
	}

	m.finish(txn)
}

func (m *TransactionManager) Abort(txn *Transaction) {
	writes := txn.WriteSet()
	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		if w.Target == nil {
			continue
		}

		var err error
		switch w.Type {
		case WriteInsert:
			err = w.Target.RollbackInsert(txn, w.RID)
		case WriteDelete:
			err = w.Target.RollbackDelete(txn, w.RID)
		case WriteUpdate:
			err = w.Target.RollbackUpdate(txn, w.RID, w.OldTuple)
		}
		if err != nil && m.log != nil {
			m.log.Errorw("rollback failed",
				"txnID", txn.ID(), "rid", w.RID, "error", err)
		}
	}

	if m.logManager != nil && m.logManager.Enabled() {
		rec := recovery.NewAbortRecord(txn.ID(), txn.PrevLSN())
		if lsn, err := m.logManager.AppendLogRecord(rec); err == nil {
			txn.SetPrevLSN(lsn)
		}
	}

	txn.SetState(Aborted)
	m.finish(txn)
}

// finish releases every lock and, for a committed transaction, drops
// the pages it scheduled for deletion.
func (m *TransactionManager) finish(txn *Transaction) {
	rids := make([]common.RID, 0,
		len(txn.SharedLockSet())+len(txn.ExclusiveLockSet()))
	for rid := range txn.SharedLockSet() {
		rids = append(rids, rid)
	}
	for rid := range txn.ExclusiveLockSet() {
		rids = append(rids, rid)
	}
	for _, rid := range rids {
		m.lockManager.Unlock(txn, rid)
	}

	if txn.State() == Committed && m.pool != nil {
		for pageID := range txn.DeletedPageSet() {
			m.pool.DeletePage(pageID)
		}
		txn.ClearDeletedPageSet()
	}

	m.mu.Lock()
	delete(m.activeTxns, txn.ID())
	m.mu.Unlock()
}
