package engine

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelStore/src/cfg"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/table"
)

func testConfig() cfg.EngineConfig {
	return cfg.EngineConfig{
		Environment:     cfg.EnvDev,
		DataDir:         "",
		DatabaseName:    "testdb",
		PoolSize:        32,
		LogFlushTimeout: 20 * time.Millisecond,
		StrictTwoPhase:  true,
	}
}

func TestBootstrapAndReopenKeepsInstanceID(t *testing.T) {
	fs := afero.NewMemMapFs()

	e, err := Open(testConfig(), fs, nil)
	require.NoError(t, err)
	id := e.InstanceID()
	require.NoError(t, e.Close())

	e2, err := Open(testConfig(), fs, nil)
	require.NoError(t, err)
	defer e2.Close()

	assert.Equal(t, id, e2.InstanceID())
}

func TestIndexSurvivesRestart(t *testing.T) {
	fs := afero.NewMemMapFs()

	e, err := Open(testConfig(), fs, nil)
	require.NoError(t, err)

	idx, err := e.OpenInt64Index("orders")
	require.NoError(t, err)
	for k := int64(1); k <= 100; k++ {
		txn := e.TxnManager().Begin()
		require.NoError(t, idx.Insert(k, common.RID{PageID: common.PageID(k), SlotNum: 0}, txn))
		e.TxnManager().Commit(txn)
	}
	require.NoError(t, e.Close())

	e2, err := Open(testConfig(), fs, nil)
	require.NoError(t, err)
	defer e2.Close()

	idx2, err := e2.OpenInt64Index("orders")
	require.NoError(t, err)

	txn := e2.TxnManager().Begin()
	for k := int64(1); k <= 100; k++ {
		v, err := idx2.GetValue(k, txn)
		require.NoError(t, err)
		require.True(t, v.IsSome(), "key %d lost across restart", k)
	}
	e2.TxnManager().Commit(txn)

	records, err := e2.ListIndexes()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "orders", records[0].Name)
}

func TestCrashRecoveryKeepsCommittedDropsUncommitted(t *testing.T) {
	fs := afero.NewMemMapFs()

	e, err := Open(testConfig(), fs, nil)
	require.NoError(t, err)

	boot := e.TxnManager().Begin()
	heap, err := table.NewTableHeap(e.Pool(), e.LockManager(), e.LogManager(), boot)
	require.NoError(t, err)
	e.TxnManager().Commit(boot)
	firstPageID := heap.FirstPageID()

	winner := e.TxnManager().Begin()
	committedRID, err := heap.InsertTuple(winner, []byte("committed row"))
	require.NoError(t, err)
	e.TxnManager().Commit(winner)

	loser := e.TxnManager().Begin()
	loserRID, err := heap.InsertTuple(loser, []byte("uncommitted row"))
	require.NoError(t, err)

	// crash: the WAL reaches disk, the dirtied pages never do
	e.LogManager().WaitLogToDisk(loser.PrevLSN(), true)
	e.LogManager().StopFlushThread()
	require.NoError(t, e.DiskManager().Close())

	e2, err := Open(testConfig(), fs, nil)
	require.NoError(t, err)
	defer e2.Close()

	heap2 := table.OpenTableHeap(
		e2.Pool(), e2.LockManager(), e2.LogManager(), firstPageID,
	)

	check := e2.TxnManager().Begin()
	got, err := heap2.GetTuple(check, committedRID)
	require.NoError(t, err)
	assert.Equal(t, []byte("committed row"), got)

	_, err = heap2.GetTuple(check, loserRID)
	assert.Error(t, err, "the loser's insert must be undone")
	e2.TxnManager().Commit(check)
}

func TestRecoveryResumesLSNCounter(t *testing.T) {
	fs := afero.NewMemMapFs()

	e, err := Open(testConfig(), fs, nil)
	require.NoError(t, err)

	boot := e.TxnManager().Begin()
	heap, err := table.NewTableHeap(e.Pool(), e.LockManager(), e.LogManager(), boot)
	require.NoError(t, err)
	e.TxnManager().Commit(boot)

	txn := e.TxnManager().Begin()
	_, err = heap.InsertTuple(txn, []byte("row"))
	require.NoError(t, err)
	e.TxnManager().Commit(txn)

	highWater := e.LogManager().NextLSN()
	require.NoError(t, e.Close())

	e2, err := Open(testConfig(), fs, nil)
	require.NoError(t, err)
	defer e2.Close()

	assert.GreaterOrEqual(t, e2.LogManager().NextLSN(), highWater,
		"LSNs must stay monotonic across restarts")
}
