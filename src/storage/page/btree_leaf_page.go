package page

import (
	"github.com/Blackdeer1524/RelStore/src/pkg/assert"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/pkg/optional"
)

// BTreeLeafPage holds ordered (key, RID) pairs. Leaves at the same
// depth form a singly linked list through nextPageID.
type BTreeLeafPage[K any] struct {
	*BTreePage
	codec KeyCodec[K]
}

func AsLeafPage[K any](p *Page, codec KeyCodec[K]) *BTreeLeafPage[K] {
	return &BTreeLeafPage[K]{
		BTreePage: AsBTreePage(p),
		codec:     codec,
	}
}

func (l *BTreeLeafPage[K]) pairSize() int {
	return l.codec.Size() + common.SerializedRIDSize
}

// Init sets up a fresh leaf. maxSize is derived from the page and pair
// sizes, with one pair of headroom for the insert-then-split protocol.
func (l *BTreeLeafPage[K]) Init(pageID, parentID common.PageID) {
	l.setPageType(BTreePageLeaf)
	l.SetLSN(0)
	l.SetSize(0)
	l.setBTreePageID(pageID)
	l.SetParentPageID(parentID)
	l.SetNextPageID(common.InvalidPageID)
	l.setMaxSize((common.PageSize-btreeLeafHeaderSize)/l.pairSize() - 1)
}

func (l *BTreeLeafPage[K]) NextPageID() common.PageID {
	return common.PageID(l.u32(btreeLeafNextOffset))
}

func (l *BTreeLeafPage[K]) SetNextPageID(id common.PageID) {
	l.putU32(btreeLeafNextOffset, uint32(id))
}

func (l *BTreeLeafPage[K]) pairOffset(i int) int {
	return btreeLeafHeaderSize + i*l.pairSize()
}

func (l *BTreeLeafPage[K]) KeyAt(i int) K {
	assert.Assert(i >= 0 && i < l.Size(), "leaf key index %d out of range", i)
	return l.codec.Decode(l.Data()[l.pairOffset(i):])
}

func (l *BTreeLeafPage[K]) RIDAt(i int) common.RID {
	assert.Assert(i >= 0 && i < l.Size(), "leaf value index %d out of range", i)
	var rid common.RID
	rid.DeserializeFrom(l.Data()[l.pairOffset(i)+l.codec.Size():])
	return rid
}

func (l *BTreeLeafPage[K]) setPairAt(i int, key K, rid common.RID) {
	off := l.pairOffset(i)
	l.codec.Encode(l.Data()[off:], key)
	rid.SerializeTo(l.Data()[off+l.codec.Size():])
}

func (l *BTreeLeafPage[K]) copyPair(dst int, src int) {
	size := l.pairSize()
	copy(
		l.Data()[l.pairOffset(dst):l.pairOffset(dst)+size],
		l.Data()[l.pairOffset(src):l.pairOffset(src)+size],
	)
}

// KeyIndex finds the first index whose key is >= key; equals Size()
// when every key is smaller.
func (l *BTreeLeafPage[K]) KeyIndex(key K, cmp Comparator[K]) int {
	left, right := 0, l.Size()-1
	for left <= right {
		mid := (left + right) / 2
		result := cmp(l.KeyAt(mid), key)
		if result == 0 {
			return mid
		}
		if result < 0 {
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return left
}

// Insert places the pair in key order; duplicate keys are left alone.
// Returns the size after insertion.
func (l *BTreeLeafPage[K]) Insert(key K, rid common.RID, cmp Comparator[K]) int {
	size := l.Size()
	assert.Assert(size < l.MaxSize()+1, "leaf overflow")

	index := l.KeyIndex(key, cmp)
	if index == size {
		l.setPairAt(size, key, rid)
		l.IncreaseSize(1)
		return l.Size()
	}

	if cmp(l.KeyAt(index), key) > 0 {
		for i := size; i > index; i-- {
			l.copyPair(i, i-1)
		}
		l.setPairAt(index, key, rid)
		l.IncreaseSize(1)
	}

	return l.Size()
}

func (l *BTreeLeafPage[K]) Lookup(key K, cmp Comparator[K]) optional.Optional[common.RID] {
	index := l.KeyIndex(key, cmp)
	if l.Size() == 0 || index == l.Size() {
		return optional.None[common.RID]()
	}
	if cmp(l.KeyAt(index), key) != 0 {
		return optional.None[common.RID]()
	}
	return optional.Some(l.RIDAt(index))
}

// RemoveRecord deletes the pair with the given key, keeping the array
// dense. Returns the size after deletion.
func (l *BTreeLeafPage[K]) RemoveRecord(key K, cmp Comparator[K]) int {
	if l.Size() == 0 {
		return 0
	}

	index := l.KeyIndex(key, cmp)
	if index == l.Size() || cmp(l.KeyAt(index), key) != 0 {
		return l.Size()
	}

	for i := index; i < l.Size()-1; i++ {
		l.copyPair(i, i+1)
	}
	l.IncreaseSize(-1)

	return l.Size()
}

// MoveHalfTo ships the upper half to a fresh right sibling, keeping
// ceil(n/2) pairs here, and splices the sibling into the leaf chain.
func (l *BTreeLeafPage[K]) MoveHalfTo(recipient *BTreeLeafPage[K]) {
	recipient.SetNextPageID(l.NextPageID())
	l.SetNextPageID(recipient.BTreePageID())

	mid := (l.Size()-1)/2 + 1
	for i := mid; i < l.Size(); i++ {
		recipient.setPairAt(i-mid, l.KeyAt(i), l.RIDAt(i))
	}

	recipient.SetSize(l.Size() - mid)
	l.SetSize(mid)
}

// MoveAllTo merges this leaf into its left sibling and unlinks it from
// the chain.
func (l *BTreeLeafPage[K]) MoveAllTo(recipient *BTreeLeafPage[K]) {
	assert.Assert(
		l.Size()+recipient.Size() <= l.MaxSize(),
		"merging leaves would overflow",
	)
	assert.Assert(
		recipient.NextPageID() == l.BTreePageID(),
		"recipient must be the left sibling",
	)

	base := recipient.Size()
	for i := 0; i < l.Size(); i++ {
		recipient.setPairAt(base+i, l.KeyAt(i), l.RIDAt(i))
	}
	recipient.IncreaseSize(l.Size())
	recipient.SetNextPageID(l.NextPageID())
	l.SetNextPageID(common.InvalidPageID)
	l.SetSize(0)
}

// MoveFirstToEndOf shifts one pair to the left sibling during
// redistribution.
func (l *BTreeLeafPage[K]) MoveFirstToEndOf(recipient *BTreeLeafPage[K]) {
	recipient.setPairAt(recipient.Size(), l.KeyAt(0), l.RIDAt(0))
	recipient.IncreaseSize(1)

	for i := 0; i < l.Size()-1; i++ {
		l.copyPair(i, i+1)
	}
	l.IncreaseSize(-1)
}

// MoveLastToFrontOf shifts one pair to the right sibling during
// redistribution.
func (l *BTreeLeafPage[K]) MoveLastToFrontOf(recipient *BTreeLeafPage[K]) {
	for i := recipient.Size(); i > 0; i-- {
		recipient.copyPair(i, i-1)
	}
	recipient.setPairAt(0, l.KeyAt(l.Size()-1), l.RIDAt(l.Size()-1))
	recipient.IncreaseSize(1)
	l.IncreaseSize(-1)
}
