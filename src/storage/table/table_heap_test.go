package table

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelStore/src/bufferpool"
	"github.com/Blackdeer1524/RelStore/src/recovery"
	"github.com/Blackdeer1524/RelStore/src/storage/disk"
	"github.com/Blackdeer1524/RelStore/src/txns"
)

type heapEnv struct {
	heap *TableHeap
	txns *txns.TransactionManager
	pool *bufferpool.Manager
	wal  *recovery.LogManager
}

func newHeapEnv(t *testing.T) *heapEnv {
	t.Helper()

	diskManager, err := disk.New(afero.NewMemMapFs(), "", "heap")
	require.NoError(t, err)
	t.Cleanup(func() { _ = diskManager.Close() })

	wal := recovery.NewLogManager(diskManager, 20*time.Millisecond, nil)
	wal.RunFlushThread()
	t.Cleanup(wal.StopFlushThread)

	pool := bufferpool.New(32, diskManager, wal, nil)
	lockManager := txns.NewLockManager(true)
	txnManager := txns.NewTransactionManager(lockManager, wal, pool, nil)

	boot := txnManager.Begin()
	heap, err := NewTableHeap(pool, lockManager, wal, boot)
	require.NoError(t, err)
	txnManager.Commit(boot)

	return &heapEnv{heap: heap, txns: txnManager, pool: pool, wal: wal}
}

func TestHeapInsertAndGet(t *testing.T) {
	e := newHeapEnv(t)

	txn := e.txns.Begin()
	rid, err := e.heap.InsertTuple(txn, []byte("row-1"))
	require.NoError(t, err)
	assert.True(t, txn.IsExclusiveLocked(rid))

	got, err := e.heap.GetTuple(txn, rid)
	require.NoError(t, err)
	assert.Equal(t, []byte("row-1"), got)
	e.txns.Commit(txn)

	// visible to a later transaction
	txn2 := e.txns.Begin()
	got, err = e.heap.GetTuple(txn2, rid)
	require.NoError(t, err)
	assert.Equal(t, []byte("row-1"), got)
	e.txns.Commit(txn2)
}

func TestHeapAbortRollsBackInsert(t *testing.T) {
	e := newHeapEnv(t)

	txn := e.txns.Begin()
	rid, err := e.heap.InsertTuple(txn, []byte("phantom"))
	require.NoError(t, err)
	e.txns.Abort(txn)

	txn2 := e.txns.Begin()
	_, err = e.heap.GetTuple(txn2, rid)
	assert.Error(t, err, "aborted insert must not be visible")
	e.txns.Commit(txn2)
}

func TestHeapDeleteLifecycle(t *testing.T) {
	e := newHeapEnv(t)

	txn := e.txns.Begin()
	rid, err := e.heap.InsertTuple(txn, []byte("victim"))
	require.NoError(t, err)
	e.txns.Commit(txn)

	// abort resurrects the tombstoned record
	txn2 := e.txns.Begin()
	require.NoError(t, e.heap.MarkDelete(txn2, rid))
	e.txns.Abort(txn2)

	txn3 := e.txns.Begin()
	got, err := e.heap.GetTuple(txn3, rid)
	require.NoError(t, err)
	assert.Equal(t, []byte("victim"), got)
	e.txns.Commit(txn3)

	// commit makes the delete final
	txn4 := e.txns.Begin()
	require.NoError(t, e.heap.MarkDelete(txn4, rid))
	e.txns.Commit(txn4)

	txn5 := e.txns.Begin()
	_, err = e.heap.GetTuple(txn5, rid)
	assert.Error(t, err)
	e.txns.Commit(txn5)
}

func TestHeapUpdateAndRollback(t *testing.T) {
	e := newHeapEnv(t)

	txn := e.txns.Begin()
	rid, err := e.heap.InsertTuple(txn, []byte("v1"))
	require.NoError(t, err)
	e.txns.Commit(txn)

	txn2 := e.txns.Begin()
	require.NoError(t, e.heap.UpdateTuple(txn2, rid, []byte("v2")))
	got, err := e.heap.GetTuple(txn2, rid)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
	e.txns.Abort(txn2)

	txn3 := e.txns.Begin()
	got, err = e.heap.GetTuple(txn3, rid)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got, "abort must restore the old image")
	e.txns.Commit(txn3)
}

func TestHeapGrowsAcrossPages(t *testing.T) {
	e := newHeapEnv(t)

	big := bytes.Repeat([]byte{0x42}, 900)

	txn := e.txns.Begin()
	first, err := e.heap.InsertTuple(txn, big)
	require.NoError(t, err)

	last := first
	for range 19 {
		last, err = e.heap.InsertTuple(txn, big)
		require.NoError(t, err)
	}
	e.txns.Commit(txn)

	// 20 x ~900 bytes cannot fit one 4KiB page
	assert.Greater(t, last.PageID, first.PageID)

	check := e.txns.Begin()
	got, err := e.heap.GetTuple(check, last)
	require.NoError(t, err)
	assert.Equal(t, big, got)
	e.txns.Commit(check)
}

func TestHeapWriteConflictWaitDie(t *testing.T) {
	e := newHeapEnv(t)

	setup := e.txns.Begin()
	rid, err := e.heap.InsertTuple(setup, []byte("contended"))
	require.NoError(t, err)
	e.txns.Commit(setup)

	older := e.txns.Begin()  // smaller id
	younger := e.txns.Begin()

	require.NoError(t, e.heap.UpdateTuple(older, rid, []byte("older-wins")))

	// the younger conflicting writer dies instead of waiting
	err = e.heap.UpdateTuple(younger, rid, []byte("younger"))
	require.ErrorIs(t, err, ErrTxnAborted)
	assert.Equal(t, txns.Aborted, younger.State())
	e.txns.Abort(younger)

	e.txns.Commit(older)

	check := e.txns.Begin()
	got, err := e.heap.GetTuple(check, rid)
	require.NoError(t, err)
	assert.Equal(t, []byte("older-wins"), got)
	e.txns.Commit(check)
}
