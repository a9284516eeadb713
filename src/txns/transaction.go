package txns

import (
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/page"
)

type TransactionState int

const (
	Growing TransactionState = iota
	Shrinking
	Committed
	Aborted
)

func (s TransactionState) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

type WriteType int

const (
	WriteInsert WriteType = iota
	WriteDelete
	WriteUpdate
)

// UndoTarget is the slice of the table heap the commit and rollback
// paths need. Declared here so the write set does not pull the table
// package in.
type UndoTarget interface {
	ApplyDelete(txn *Transaction, rid common.RID) error
	RollbackInsert(txn *Transaction, rid common.RID) error
	RollbackDelete(txn *Transaction, rid common.RID) error
	RollbackUpdate(txn *Transaction, rid common.RID, oldTuple []byte) error
}

// WriteRecord remembers one mutation for undo on abort.
type WriteRecord struct {
	RID      common.RID
	Type     WriteType
	OldTuple []byte
	Target   UndoTarget
}

// Transaction carries 2PL state, held locks, the ordered list of pages
// latched during the current index operation, pages scheduled for
// deletion, and the LSN chain head for logging.
type Transaction struct {
	id    common.TxnID
	state TransactionState

	sharedLockSet    map[common.RID]struct{}
	exclusiveLockSet map[common.RID]struct{}

	pageSet        []*page.Page
	deletedPageSet map[common.PageID]struct{}

	writeSet []WriteRecord

	prevLSN common.LSN
}

func NewTransaction(id common.TxnID) *Transaction {
	return &Transaction{
		id:               id,
		state:            Growing,
		sharedLockSet:    make(map[common.RID]struct{}),
		exclusiveLockSet: make(map[common.RID]struct{}),
		deletedPageSet:   make(map[common.PageID]struct{}),
		prevLSN:          common.InvalidLSN,
	}
}

func (t *Transaction) ID() common.TxnID {
	return t.id
}

func (t *Transaction) State() TransactionState {
	return t.state
}

func (t *Transaction) SetState(s TransactionState) {
	t.state = s
}

func (t *Transaction) SharedLockSet() map[common.RID]struct{} {
	return t.sharedLockSet
}

func (t *Transaction) ExclusiveLockSet() map[common.RID]struct{} {
	return t.exclusiveLockSet
}

func (t *Transaction) IsSharedLocked(rid common.RID) bool {
	_, ok := t.sharedLockSet[rid]
	return ok
}

func (t *Transaction) IsExclusiveLocked(rid common.RID) bool {
	_, ok := t.exclusiveLockSet[rid]
	return ok
}

// AddIntoPageSet appends a latched page; the order is the latch
// acquisition order down the tree.
func (t *Transaction) AddIntoPageSet(p *page.Page) {
	t.pageSet = append(t.pageSet, p)
}

func (t *Transaction) PageSet() []*page.Page {
	return t.pageSet
}

func (t *Transaction) ClearPageSet() {
	t.pageSet = t.pageSet[:0]
}

func (t *Transaction) AddIntoDeletedPageSet(id common.PageID) {
	t.deletedPageSet[id] = struct{}{}
}

func (t *Transaction) DeletedPageSet() map[common.PageID]struct{} {
	return t.deletedPageSet
}

func (t *Transaction) ClearDeletedPageSet() {
	clear(t.deletedPageSet)
}

func (t *Transaction) AppendWriteRecord(r WriteRecord) {
	t.writeSet = append(t.writeSet, r)
}

func (t *Transaction) WriteSet() []WriteRecord {
	return t.writeSet
}

func (t *Transaction) PrevLSN() common.LSN {
	return t.prevLSN
}

func (t *Transaction) SetPrevLSN(lsn common.LSN) {
	t.prevLSN = lsn
}
