package page

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

func newTablePage(t *testing.T) *TablePage {
	t.Helper()

	tp := AsTablePage(NewPage())
	tp.Init(3, common.InvalidPageID)

	return tp
}

func TestTablePageInsertAndGet(t *testing.T) {
	tp := newTablePage(t)

	slot, ok := tp.InsertTuple([]byte("hello"))
	require.True(t, ok)
	assert.Equal(t, int32(0), slot)

	got, ok := tp.GetTuple(slot)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	slot2, ok := tp.InsertTuple([]byte("world"))
	require.True(t, ok)
	assert.Equal(t, int32(1), slot2)
	assert.Equal(t, int32(2), tp.TupleCount())
}

func TestTablePageDeleteLifecycle(t *testing.T) {
	tp := newTablePage(t)

	slot, ok := tp.InsertTuple([]byte("tuple"))
	require.True(t, ok)

	require.True(t, tp.MarkDelete(slot))
	assert.True(t, tp.IsDeleted(slot))
	_, ok = tp.GetTuple(slot)
	assert.False(t, ok, "tombstoned tuples are invisible")

	raw, ok := tp.GetTupleRaw(slot)
	require.True(t, ok)
	assert.Equal(t, []byte("tuple"), raw)

	require.True(t, tp.RollbackDelete(slot))
	got, ok := tp.GetTuple(slot)
	require.True(t, ok)
	assert.Equal(t, []byte("tuple"), got)

	require.True(t, tp.MarkDelete(slot))
	require.True(t, tp.ApplyDelete(slot))
	_, ok = tp.GetTupleRaw(slot)
	assert.False(t, ok)

	// the freed slot is reused
	slot2, ok := tp.InsertTuple([]byte("replacement"))
	require.True(t, ok)
	assert.Equal(t, slot, slot2)
}

func TestTablePageUpdate(t *testing.T) {
	tp := newTablePage(t)

	slot, ok := tp.InsertTuple([]byte("0123456789"))
	require.True(t, ok)

	require.True(t, tp.UpdateTuple(slot, []byte("short")))
	got, _ := tp.GetTuple(slot)
	assert.Equal(t, []byte("short"), got)

	require.True(t, tp.UpdateTuple(slot, []byte("a much longer replacement tuple")))
	got, _ = tp.GetTuple(slot)
	assert.Equal(t, []byte("a much longer replacement tuple"), got)
}

func TestTablePageInsertTupleAt(t *testing.T) {
	tp := newTablePage(t)

	require.True(t, tp.InsertTupleAt(2, []byte("redo")))
	assert.Equal(t, int32(3), tp.TupleCount())

	got, ok := tp.GetTuple(2)
	require.True(t, ok)
	assert.Equal(t, []byte("redo"), got)

	_, ok = tp.GetTuple(0)
	assert.False(t, ok)

	assert.False(t, tp.InsertTupleAt(2, []byte("occupied")))
}

func TestTablePageFillsUp(t *testing.T) {
	tp := newTablePage(t)

	tuple := bytes.Repeat([]byte{0x7}, 128)
	inserted := 0
	for {
		if _, ok := tp.InsertTuple(tuple); !ok {
			break
		}
		inserted++
	}

	assert.Greater(t, inserted, 20)
	_, ok := tp.InsertTuple(tuple)
	assert.False(t, ok, "page out of space")
}

func TestTablePageChainPointers(t *testing.T) {
	tp := newTablePage(t)

	assert.Equal(t, common.PageID(3), tp.TablePageID())
	assert.Equal(t, common.InvalidPageID, tp.PrevPageID())
	assert.Equal(t, common.InvalidPageID, tp.NextPageID())

	tp.SetNextPageID(9)
	assert.Equal(t, common.PageID(9), tp.NextPageID())
}
