package txns

import (
	"sync"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

type request struct {
	txnID   common.TxnID
	mode    LockMode
	granted bool
	upgrade bool
}

type waitList struct {
	// arrival order
	list       []*request
	upgradeCnt int
}

// LockManager implements tuple-level strict (or non-strict) two-phase
// locking with wait-die deadlock avoidance: an older transaction waits
// for a younger one, a younger transaction dies instead of waiting.
//
// One mutex and one condition variable serialize the whole table; the
// per-lock critical sections are short.
type LockManager struct {
	mu   sync.Mutex
	cond *sync.Cond

	table map[common.RID]*waitList

	strict bool
}

func NewLockManager(strict bool) *LockManager {
	m := &LockManager{
		table:  make(map[common.RID]*waitList),
		strict: strict,
	}
	m.cond = sync.NewCond(&m.mu)

	return m
}

func (m *LockManager) waitListFor(rid common.RID) *waitList {
	wl, ok := m.table[rid]
	if !ok {
		wl = &waitList{}
		m.table[rid] = wl
	}
	return wl
}

// waitDie appends the request unless the wait-die policy kills it: any
// conflicting entry of an older transaction means the requester dies.
func (m *LockManager) waitDie(wl *waitList, r *request) bool {
	for _, other := range wl.list {
		if other.txnID >= r.txnID {
			continue
		}
		if r.mode == LockShared && other.mode == LockShared {
			continue
		}
		return false
	}

	wl.list = append(wl.list, r)

	return true
}

// LockShared blocks until every earlier conflicting request is gone.
// Returns false when the transaction is aborted instead.
func (m *LockManager) LockShared(txn *Transaction, rid common.RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.State() != Growing {
		txn.SetState(Aborted)
		return false
	}

	wl := m.waitListFor(rid)
	req := &request{txnID: txn.ID(), mode: LockShared}
	if !m.waitDie(wl, req) {
		txn.SetState(Aborted)
		return false
	}

	for !m.sharedGrantable(wl, req) {
		m.cond.Wait()
	}
	req.granted = true

	txn.SharedLockSet()[rid] = struct{}{}
	m.cond.Broadcast()

	return true
}

// sharedGrantable: every entry ahead of req belongs to this transaction
// or is a granted shared holder.
func (m *LockManager) sharedGrantable(wl *waitList, req *request) bool {
	for _, other := range wl.list {
		if other == req {
			return true
		}
		if other.txnID == req.txnID {
			continue
		}
		if !other.granted || other.mode == LockExclusive {
			return false
		}
	}
	return true
}

// LockExclusive blocks until the request is at the head of the queue.
func (m *LockManager) LockExclusive(txn *Transaction, rid common.RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.State() != Growing {
		txn.SetState(Aborted)
		return false
	}

	wl := m.waitListFor(rid)
	req := &request{txnID: txn.ID(), mode: LockExclusive}
	if !m.waitDie(wl, req) {
		txn.SetState(Aborted)
		return false
	}

	for len(wl.list) == 0 || wl.list[0] != req {
		m.cond.Wait()
	}
	req.granted = true

	txn.ExclusiveLockSet()[rid] = struct{}{}
	m.cond.Broadcast()

	return true
}

// LockUpgrade converts a held shared lock into an exclusive one. Only
// one upgrade may be pending per record; wait-die applies against other
// holders and waiters at upgrade time.
func (m *LockManager) LockUpgrade(txn *Transaction, rid common.RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !txn.IsSharedLocked(rid) {
		txn.SetState(Aborted)
		return false
	}
	if txn.State() != Growing {
		txn.SetState(Aborted)
		return false
	}

	wl := m.waitListFor(rid)

	wl.upgradeCnt++
	if wl.upgradeCnt > 1 {
		wl.upgradeCnt--
		txn.SetState(Aborted)
		return false
	}

	var own *request
	for _, other := range wl.list {
		if other.txnID == txn.ID() {
			other.upgrade = true
			own = other
			continue
		}
		// An older granted holder means die; a younger waiter that is
		// not yet granted would jump ahead of the upgrade.
		if (other.txnID < txn.ID() && other.granted) ||
			(other.txnID > txn.ID() && !other.granted) {
			wl.upgradeCnt--
			own = nil
			txn.SetState(Aborted)
			return false
		}
	}
	if own == nil {
		wl.upgradeCnt--
		txn.SetState(Aborted)
		return false
	}

	for !m.upgradeGrantable(wl, own) {
		m.cond.Wait()
	}
	own.mode = LockExclusive
	own.granted = true
	wl.upgradeCnt--

	delete(txn.SharedLockSet(), rid)
	txn.ExclusiveLockSet()[rid] = struct{}{}
	m.cond.Broadcast()

	return true
}

// upgradeGrantable: the upgrading entry is first in the list and the
// second entry, if any, is either the same transaction or not granted.
func (m *LockManager) upgradeGrantable(wl *waitList, own *request) bool {
	if len(wl.list) == 0 || wl.list[0] != own {
		return false
	}
	if len(wl.list) > 1 {
		second := wl.list[1]
		if second.txnID != own.txnID && second.granted {
			return false
		}
	}
	return true
}

// Unlock releases every entry this transaction holds on the record.
// Under strict 2PL it is legal only after commit or abort; otherwise it
// moves a growing transaction into the shrinking phase.
func (m *LockManager) Unlock(txn *Transaction, rid common.RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.strict {
		if txn.State() != Committed && txn.State() != Aborted {
			txn.SetState(Aborted)
			return false
		}
	} else if txn.State() == Growing {
		txn.SetState(Shrinking)
	}

	wl := m.waitListFor(rid)
	kept := wl.list[:0]
	for _, other := range wl.list {
		if other.txnID != txn.ID() {
			kept = append(kept, other)
			continue
		}
		if !other.granted && other.upgrade {
			wl.upgradeCnt--
		}
	}
	wl.list = kept
	if len(wl.list) == 0 {
		delete(m.table, rid)
	}

	delete(txn.SharedLockSet(), rid)
	delete(txn.ExclusiveLockSet(), rid)

	m.cond.Broadcast()

	return true
}
