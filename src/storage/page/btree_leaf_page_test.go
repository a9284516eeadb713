package page

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

type int64Codec struct{}

func (int64Codec) Size() int { return 8 }
func (int64Codec) Encode(buf []byte, k int64) {
	binary.LittleEndian.PutUint64(buf[:8], uint64(k))
}
func (int64Codec) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf[:8]))
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func ridFor(k int64) common.RID {
	return common.RID{PageID: common.PageID(k), SlotNum: int32(k)}
}

func newLeaf(t *testing.T, id common.PageID) *BTreeLeafPage[int64] {
	t.Helper()

	l := AsLeafPage[int64](NewPage(), int64Codec{})
	l.Init(id, common.InvalidPageID)

	return l
}

func TestLeafInsertKeepsOrder(t *testing.T) {
	l := newLeaf(t, 1)

	for _, k := range []int64{5, 1, 9, 3, 7} {
		l.Insert(k, ridFor(k), cmpInt64)
	}

	require.Equal(t, 5, l.Size())
	want := []int64{1, 3, 5, 7, 9}
	for i, k := range want {
		assert.Equal(t, k, l.KeyAt(i))
		assert.Equal(t, ridFor(k), l.RIDAt(i))
	}
}

func TestLeafDuplicateInsertIsNoop(t *testing.T) {
	l := newLeaf(t, 1)

	l.Insert(4, ridFor(4), cmpInt64)
	size := l.Insert(4, ridFor(40), cmpInt64)

	assert.Equal(t, 1, size)
	assert.Equal(t, ridFor(4), l.RIDAt(0))
}

func TestLeafLookupAndRemove(t *testing.T) {
	l := newLeaf(t, 1)

	for k := int64(0); k < 10; k++ {
		l.Insert(k, ridFor(k), cmpInt64)
	}

	v := l.Lookup(6, cmpInt64)
	require.True(t, v.IsSome())
	assert.Equal(t, ridFor(6), v.Unwrap())
	assert.True(t, l.Lookup(42, cmpInt64).IsNone())

	assert.Equal(t, 9, l.RemoveRecord(6, cmpInt64))
	assert.True(t, l.Lookup(6, cmpInt64).IsNone())
	assert.Equal(t, 9, l.RemoveRecord(6, cmpInt64), "absent key leaves size alone")
}

func TestLeafMoveHalfLinksSiblings(t *testing.T) {
	left := newLeaf(t, 1)
	right := newLeaf(t, 2)

	for k := int64(0); k < 10; k++ {
		left.Insert(k, ridFor(k), cmpInt64)
	}

	left.MoveHalfTo(right)

	assert.Equal(t, 5, left.Size())
	assert.Equal(t, 5, right.Size())
	assert.Equal(t, common.PageID(2), left.NextPageID())
	assert.Equal(t, int64(5), right.KeyAt(0))
}

func TestLeafRedistribution(t *testing.T) {
	left := newLeaf(t, 1)
	right := newLeaf(t, 2)
	left.SetNextPageID(2)

	for k := int64(0); k < 4; k++ {
		left.Insert(k, ridFor(k), cmpInt64)
	}
	for k := int64(10); k < 12; k++ {
		right.Insert(k, ridFor(k), cmpInt64)
	}

	left.MoveLastToFrontOf(right)
	assert.Equal(t, int64(3), right.KeyAt(0))
	assert.Equal(t, 3, left.Size())
	assert.Equal(t, 3, right.Size())

	right.MoveFirstToEndOf(left)
	assert.Equal(t, int64(3), left.KeyAt(left.Size()-1))
	assert.Equal(t, int64(10), right.KeyAt(0))
}

func TestLeafMergeAdjustsChain(t *testing.T) {
	left := newLeaf(t, 1)
	right := newLeaf(t, 2)
	left.SetNextPageID(2)
	right.SetNextPageID(7)

	left.Insert(1, ridFor(1), cmpInt64)
	right.Insert(2, ridFor(2), cmpInt64)

	right.MoveAllTo(left)

	assert.Equal(t, 2, left.Size())
	assert.Equal(t, 0, right.Size())
	assert.Equal(t, common.PageID(7), left.NextPageID())
	assert.Equal(t, common.InvalidPageID, right.NextPageID())
}
