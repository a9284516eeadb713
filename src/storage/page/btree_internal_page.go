package page

import (
	"github.com/Blackdeer1524/RelStore/src/pkg/assert"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

// BTreeInternalPage holds separator keys and child page ids. The first
// key is the invalid sentinel: entry 0 carries only a child pointer.
//
// Moving entries between nodes never touches the children's parent
// pointers here; nodes reference one another by page id only, so the
// tree re-parents moved children through the buffer pool.
type BTreeInternalPage[K any] struct {
	*BTreePage
	codec KeyCodec[K]
}

func AsInternalPage[K any](p *Page, codec KeyCodec[K]) *BTreeInternalPage[K] {
	return &BTreeInternalPage[K]{
		BTreePage: AsBTreePage(p),
		codec:     codec,
	}
}

func (n *BTreeInternalPage[K]) pairSize() int {
	return n.codec.Size() + 4
}

func (n *BTreeInternalPage[K]) Init(pageID, parentID common.PageID) {
	n.setPageType(BTreePageInternal)
	n.SetLSN(0)
	n.SetSize(0)
	n.setBTreePageID(pageID)
	n.SetParentPageID(parentID)
	n.setMaxSize((common.PageSize-btreeInternalHeaderSize)/n.pairSize() - 1)
}

func (n *BTreeInternalPage[K]) pairOffset(i int) int {
	return btreeInternalHeaderSize + i*n.pairSize()
}

func (n *BTreeInternalPage[K]) KeyAt(i int) K {
	assert.Assert(i >= 0 && i < n.Size(), "internal key index %d out of range", i)
	return n.codec.Decode(n.Data()[n.pairOffset(i):])
}

func (n *BTreeInternalPage[K]) SetKeyAt(i int, key K) {
	assert.Assert(i >= 0 && i < n.Size(), "internal key index %d out of range", i)
	n.codec.Encode(n.Data()[n.pairOffset(i):], key)
}

func (n *BTreeInternalPage[K]) ValueAt(i int) common.PageID {
	assert.Assert(i >= 0 && i < n.Size(), "internal value index %d out of range", i)
	return common.PageID(n.u32(n.pairOffset(i) + n.codec.Size()))
}

func (n *BTreeInternalPage[K]) setValueAt(i int, id common.PageID) {
	n.putU32(n.pairOffset(i)+n.codec.Size(), uint32(id))
}

// ValueIndex locates the entry holding the given child id, or -1.
func (n *BTreeInternalPage[K]) ValueIndex(id common.PageID) int {
	for i := 0; i < n.Size(); i++ {
		if n.ValueAt(i) == id {
			return i
		}
	}
	return -1
}

func (n *BTreeInternalPage[K]) copyPair(dst, src int) {
	size := n.pairSize()
	copy(
		n.Data()[n.pairOffset(dst):n.pairOffset(dst)+size],
		n.Data()[n.pairOffset(src):n.pairOffset(src)+size],
	)
}

// Lookup returns the child whose subtree covers key. The search starts
// at index 1: the first key is invalid.
func (n *BTreeInternalPage[K]) Lookup(key K, cmp Comparator[K]) common.PageID {
	left, right := 1, n.Size()-1
	for left <= right {
		mid := left + (right-left)/2
		result := cmp(n.KeyAt(mid), key)
		if result == 0 {
			return n.ValueAt(mid)
		}
		if result < 0 {
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return n.ValueAt(left - 1)
}

// PopulateNewRoot fills a fresh root after the old root split.
func (n *BTreeInternalPage[K]) PopulateNewRoot(
	oldChild common.PageID,
	newKey K,
	newChild common.PageID,
) {
	n.SetSize(2)
	n.setValueAt(0, oldChild)
	n.SetKeyAt(1, newKey)
	n.setValueAt(1, newChild)
}

// InsertNodeAfter places (newKey, newChild) right after the entry whose
// value is oldChild. Returns the size after insertion.
func (n *BTreeInternalPage[K]) InsertNodeAfter(
	oldChild common.PageID,
	newKey K,
	newChild common.PageID,
) int {
	target := n.ValueIndex(oldChild)
	assert.Assert(target != -1, "split child %d not found in parent", oldChild)

	for i := n.Size() - 1; i > target; i-- {
		n.copyPair(i+1, i)
	}
	n.IncreaseSize(1)
	n.SetKeyAt(target+1, newKey)
	n.setValueAt(target+1, newChild)

	return n.Size()
}

func (n *BTreeInternalPage[K]) Remove(index int) {
	assert.Assert(index >= 0 && index < n.Size(), "remove index %d out of range", index)

	for i := index; i < n.Size()-1; i++ {
		n.copyPair(i, i+1)
	}
	n.IncreaseSize(-1)
}

// RemoveAndReturnOnlyChild collapses a single-child root.
func (n *BTreeInternalPage[K]) RemoveAndReturnOnlyChild() common.PageID {
	assert.Assert(n.Size() == 1, "node has %d children, want exactly one", n.Size())
	child := n.ValueAt(0)
	n.SetSize(0)
	return child
}

// MoveHalfTo ships the upper half to a fresh right sibling. The
// recipient's entry 0 keeps the moved key: the tree pushes KeyAt(0) of
// the recipient up as the separator.
func (n *BTreeInternalPage[K]) MoveHalfTo(recipient *BTreeInternalPage[K]) []common.PageID {
	assert.Assert(n.Size() == n.MaxSize()+1, "splitting a non-overflowing node")

	prevSize := n.Size()
	start := (prevSize-1)/2 + 1
	recipient.SetSize(prevSize - start)
	for i := start; i < prevSize; i++ {
		j := i - start
		recipient.codec.Encode(recipient.Data()[recipient.pairOffset(j):], n.KeyAt(i))
		recipient.setValueAt(j, n.ValueAt(i))
	}
	n.SetSize(start)

	return recipient.children()
}

// MoveAllTo merges this node into its left sibling, pulling the
// separator down as the first moved key. Returns the moved children.
func (n *BTreeInternalPage[K]) MoveAllTo(
	recipient *BTreeInternalPage[K],
	middleKey K,
) []common.PageID {
	assert.Assert(
		n.Size()+recipient.Size() <= n.MaxSize(),
		"merging internal nodes would overflow",
	)

	base := recipient.Size()
	recipient.IncreaseSize(n.Size())
	recipient.SetKeyAt(base, middleKey)
	recipient.setValueAt(base, n.ValueAt(0))
	for i := 1; i < n.Size(); i++ {
		recipient.SetKeyAt(base+i, n.KeyAt(i))
		recipient.setValueAt(base+i, n.ValueAt(i))
	}

	moved := n.children()
	n.SetSize(0)

	return moved
}

// MoveFirstToEndOf shifts the first child to the left sibling. The old
// separator lands at the recipient's tail; the new separator (the key
// vacated here) is returned. The moved child id is returned for
// re-parenting.
func (n *BTreeInternalPage[K]) MoveFirstToEndOf(
	recipient *BTreeInternalPage[K],
	middleKey K,
) (K, common.PageID) {
	moved := n.ValueAt(0)
	newMiddle := n.KeyAt(1)

	recipient.IncreaseSize(1)
	recipient.SetKeyAt(recipient.Size()-1, middleKey)
	recipient.setValueAt(recipient.Size()-1, moved)

	n.setValueAt(0, n.ValueAt(1))
	n.Remove(1)

	return newMiddle, moved
}

// MoveLastToFrontOf shifts the last child to the right sibling. The old
// separator becomes the recipient's first key; the new separator (the
// key vacated here) is returned with the moved child id.
func (n *BTreeInternalPage[K]) MoveLastToFrontOf(
	recipient *BTreeInternalPage[K],
	middleKey K,
) (K, common.PageID) {
	moved := n.ValueAt(n.Size() - 1)
	newMiddle := n.KeyAt(n.Size() - 1)
	n.IncreaseSize(-1)

	recipient.IncreaseSize(1)
	for i := recipient.Size() - 1; i > 0; i-- {
		recipient.copyPair(i, i-1)
	}
	recipient.SetKeyAt(1, middleKey)
	recipient.setValueAt(0, moved)

	return newMiddle, moved
}

func (n *BTreeInternalPage[K]) children() []common.PageID {
	out := make([]common.PageID, 0, n.Size())
	for i := 0; i < n.Size(); i++ {
		out = append(out, n.ValueAt(i))
	}
	return out
}
