package txns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

var testRID = common.RID{PageID: 1, SlotNum: 1}

func awaitResult(t *testing.T, ch <-chan bool, msg string) bool {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal(msg)
		return false
	}
}

func expectBlocked(t *testing.T, ch <-chan bool, msg string) {
	t.Helper()

	select {
	case <-ch:
		t.Error(msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSharedLocksAreCompatible(t *testing.T) {
	m := NewLockManager(true)
	t0 := NewTransaction(0)
	t1 := NewTransaction(1)

	require.True(t, m.LockShared(t0, testRID))
	require.True(t, m.LockShared(t1, testRID))

	assert.True(t, t0.IsSharedLocked(testRID))
	assert.True(t, t1.IsSharedLocked(testRID))
}

func TestWaitDieYoungerDies(t *testing.T) {
	m := NewLockManager(true)
	older := NewTransaction(0)
	younger := NewTransaction(1)

	require.True(t, m.LockExclusive(older, testRID))

	// the younger conflicting requester is aborted immediately
	assert.False(t, m.LockExclusive(younger, testRID))
	assert.Equal(t, Aborted, younger.State())
	assert.False(t, younger.IsExclusiveLocked(testRID))
}

func TestWaitDieOlderWaits(t *testing.T) {
	m := NewLockManager(true)
	older := NewTransaction(0)
	younger := NewTransaction(1)

	require.True(t, m.LockExclusive(younger, testRID))

	done := make(chan bool)
	go func() {
		done <- m.LockExclusive(older, testRID)
	}()

	expectBlocked(t, done, "older transaction must wait, not fail")

	younger.SetState(Committed)
	require.True(t, m.Unlock(younger, testRID))

	assert.True(t, awaitResult(t, done, "older transaction never got the lock"))
	assert.True(t, older.IsExclusiveLocked(testRID))
}

func TestSharedYoungerSurvivesOlderSharedHolders(t *testing.T) {
	m := NewLockManager(true)
	older := NewTransaction(0)
	younger := NewTransaction(5)

	require.True(t, m.LockShared(older, testRID))
	assert.True(t, m.LockShared(younger, testRID), "shared vs shared never conflicts")
}

func TestExclusiveWaitsForSharedHolders(t *testing.T) {
	m := NewLockManager(true)
	reader := NewTransaction(1)
	writer := NewTransaction(0)

	require.True(t, m.LockShared(reader, testRID))

	done := make(chan bool)
	go func() {
		done <- m.LockExclusive(writer, testRID)
	}()

	expectBlocked(t, done, "exclusive lock granted alongside a shared one")

	reader.SetState(Committed)
	require.True(t, m.Unlock(reader, testRID))
	assert.True(t, awaitResult(t, done, "writer starved after reader left"))
}

func TestUpgradeWaitsForOtherSharers(t *testing.T) {
	m := NewLockManager(true)
	t0 := NewTransaction(0)
	t1 := NewTransaction(1)
	t2 := NewTransaction(2)

	require.True(t, m.LockShared(t0, testRID))
	require.True(t, m.LockShared(t1, testRID))
	require.True(t, m.LockShared(t2, testRID))

	done := make(chan bool)
	go func() {
		done <- m.LockUpgrade(t0, testRID)
	}()

	expectBlocked(t, done, "upgrade granted while other sharers hold the lock")

	t1.SetState(Committed)
	require.True(t, m.Unlock(t1, testRID))
	t2.SetState(Committed)
	require.True(t, m.Unlock(t2, testRID))

	assert.True(t, awaitResult(t, done, "upgrade never granted"))
	assert.True(t, t0.IsExclusiveLocked(testRID))
	assert.False(t, t0.IsSharedLocked(testRID))
}

func TestUpgradeWithoutSharedLockAborts(t *testing.T) {
	m := NewLockManager(true)
	txn := NewTransaction(0)

	assert.False(t, m.LockUpgrade(txn, testRID))
	assert.Equal(t, Aborted, txn.State())
}

func TestSecondPendingUpgradeAborts(t *testing.T) {
	m := NewLockManager(true)
	t0 := NewTransaction(0)
	t1 := NewTransaction(1)
	t2 := NewTransaction(2)

	require.True(t, m.LockShared(t0, testRID))
	require.True(t, m.LockShared(t1, testRID))
	require.True(t, m.LockShared(t2, testRID))

	first := make(chan bool)
	go func() {
		first <- m.LockUpgrade(t0, testRID)
	}()
	expectBlocked(t, first, "upgrade should wait for the other sharers")

	// a second concurrent upgrade fails immediately
	assert.False(t, m.LockUpgrade(t1, testRID))
	assert.Equal(t, Aborted, t1.State())

	require.True(t, m.Unlock(t1, testRID))
	t2.SetState(Committed)
	require.True(t, m.Unlock(t2, testRID))
	assert.True(t, awaitResult(t, first, "first upgrade never resolved"))
}

func TestStrictTwoPhaseUnlockBeforeCommitAborts(t *testing.T) {
	m := NewLockManager(true)
	txn := NewTransaction(0)

	require.True(t, m.LockShared(txn, testRID))

	assert.False(t, m.Unlock(txn, testRID), "early unlock is illegal under strict 2PL")
	assert.Equal(t, Aborted, txn.State())
}

func TestNonStrictUnlockMovesToShrinking(t *testing.T) {
	m := NewLockManager(false)
	txn := NewTransaction(0)

	require.True(t, m.LockShared(txn, testRID))
	require.True(t, m.Unlock(txn, testRID))
	assert.Equal(t, Shrinking, txn.State())

	// growing phase is over
	assert.False(t, m.LockShared(txn, testRID))
	assert.Equal(t, Aborted, txn.State())
}

func TestLockAfterAbortFails(t *testing.T) {
	m := NewLockManager(true)
	txn := NewTransaction(3)
	txn.SetState(Aborted)

	assert.False(t, m.LockShared(txn, testRID))
	assert.False(t, m.LockExclusive(txn, testRID))
}

func TestOlderReadersQueueBehindYoungerWriter(t *testing.T) {
	m := NewLockManager(true)
	holder := NewTransaction(10)

	require.True(t, m.LockExclusive(holder, testRID))

	results := make(chan int, 2)
	launch := func(txn *Transaction, tag int) {
		if m.LockShared(txn, testRID) {
			results <- tag
		}
	}

	r1 := NewTransaction(1)
	r2 := NewTransaction(2)
	go launch(r1, 1)
	time.Sleep(20 * time.Millisecond)
	go launch(r2, 2)
	time.Sleep(50 * time.Millisecond)

	select {
	case <-results:
		t.Fatal("reader granted while the writer still holds the lock")
	default:
	}

	holder.SetState(Committed)
	require.True(t, m.Unlock(holder, testRID))

	got := map[int]bool{}
	for range 2 {
		select {
		case tag := <-results:
			got[tag] = true
		case <-time.After(2 * time.Second):
			t.Fatal("queued readers never granted")
		}
	}
	assert.True(t, got[1] && got[2])
}
