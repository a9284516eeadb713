package index

import (
	"sync"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/RelStore/src/bufferpool"
	"github.com/Blackdeer1524/RelStore/src/pkg/assert"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/pkg/optional"
	"github.com/Blackdeer1524/RelStore/src/storage/page"
	"github.com/Blackdeer1524/RelStore/src/txns"
)

var ErrDuplicateKey = errors.New("key already exists in the index")

type opType int

const (
	opGet opType = iota
	opInsert
	opDelete
)

// BPlusTree is a concurrent, disk-backed B+ tree mapping keys onto
// RIDs. Traversals use latch crabbing: a child's latch is taken before
// the parent's is given up, and for mutations the held ancestors are
// released only once a node is known to absorb the change without
// touching its parent.
//
// The root page id lives in the header page under the index name; its
// in-memory copy is guarded by rootMu, which doubles as the entry latch
// of every traversal.
type BPlusTree[K any] struct {
	name  string
	pool  *bufferpool.Manager
	codec page.KeyCodec[K]
	cmp   page.Comparator[K]

	rootMu     sync.Mutex
	rootPageID common.PageID
}

// traversal tracks what one operation holds: the pages latched so far
// (through the transaction's page set) and whether rootMu is still
// owned.
type traversal struct {
	txn         *txns.Transaction
	op          opType
	holdsRootMu bool
}

func NewBPlusTree[K any](
	name string,
	pool *bufferpool.Manager,
	codec page.KeyCodec[K],
	cmp page.Comparator[K],
) (*BPlusTree[K], error) {
	headerRaw, err := pool.FetchPage(common.HeaderPageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch the header page")
	}

	headerRaw.RLock()
	header := page.AsHeaderPage(headerRaw)
	root := header.GetRootID(name)
	headerRaw.RUnlock()
	pool.UnpinPage(common.HeaderPageID, false)

	return &BPlusTree[K]{
		name:       name,
		pool:       pool,
		codec:      codec,
		cmp:        cmp,
		rootPageID: root.UnwrapOr(common.InvalidPageID),
	}, nil
}

func (b *BPlusTree[K]) IsEmpty() bool {
	b.rootMu.Lock()
	defer b.rootMu.Unlock()

	return !b.rootPageID.IsValid()
}

// updateRootPageID persists the root change into the header page.
// Caller holds rootMu.
func (b *BPlusTree[K]) updateRootPageID() error {
	headerRaw, err := b.pool.FetchPage(common.HeaderPageID)
	if err != nil {
		return errors.Wrap(err, "failed to fetch the header page")
	}

	headerRaw.Lock()
	header := page.AsHeaderPage(headerRaw)
	if !header.UpdateRecord(b.name, b.rootPageID) {
		header.InsertRecord(b.name, b.rootPageID)
	}
	headerRaw.Unlock()
	b.pool.UnpinPage(common.HeaderPageID, true)

	return nil
}

func (b *BPlusTree[K]) latch(p *page.Page, op opType) {
	if op == opGet {
		p.RLock()
	} else {
		p.Lock()
	}
}

// releaseAll unlatches and unpins every page the traversal holds, in
// acquisition order, and gives rootMu back if still owned.
func (b *BPlusTree[K]) releaseAll(tr *traversal) {
	if tr.txn != nil {
		dirty := tr.op != opGet
		for _, p := range tr.txn.PageSet() {
			if tr.op == opGet {
				p.RUnlock()
			} else {
				p.Unlock()
			}
			b.pool.UnpinPage(p.ID(), dirty)
		}
		tr.txn.ClearPageSet()
	}

	if tr.holdsRootMu {
		b.rootMu.Unlock()
		tr.holdsRootMu = false
	}
}

// isSafe: the node absorbs the operation without structural changes at
// its parent.
func isSafe(node *page.BTreePage, op opType) bool {
	switch op {
	case opInsert:
		return node.Size() < node.MaxSize()
	case opDelete:
		return node.Size() > node.MinSize()
	}
	return true
}

// latchAndCrab latches p for the operation. For unsafe delete targets
// the relevant sibling is write-latched in advance so coalesce or
// redistribute can run atomically. New latches land in the
// transaction's page set.
func (b *BPlusTree[K]) latchAndCrab(p *page.Page, tr *traversal) error {
	b.latch(p, tr.op)

	node := page.AsBTreePage(p)
	if tr.txn == nil || tr.op != opDelete || node.IsRoot() || isSafe(node, tr.op) {
		return nil
	}

	parentRaw, err := b.pool.FetchPage(node.ParentPageID())
	if err != nil {
		return err
	}
	parent := page.AsInternalPage(parentRaw, b.codec)
	index := parent.ValueIndex(node.BTreePageID())
	assert.Assert(index >= 0, "node %d missing from its parent", node.BTreePageID())

	var siblingID common.PageID
	if index > 0 {
		siblingID = parent.ValueAt(index - 1)
	} else {
		siblingID = parent.ValueAt(index + 1)
	}
	b.pool.UnpinPage(parentRaw.ID(), false)

	siblingRaw, err := b.pool.FetchPage(siblingID)
	if err != nil {
		return err
	}
	// The pin is kept with the latch: the page set releases both, and an
	// unpinned-but-latched page could be evicted underneath the latch.
	siblingRaw.Lock()
	tr.txn.AddIntoPageSet(siblingRaw)

	return nil
}

// findLeaf descends from the root to the leaf covering key (or the
// leftmost leaf). Caller holds rootMu; tr.holdsRootMu must be true.
// With a transaction, write traversals keep unsafe ancestors latched;
// without one, only read traversals are legal and parents are released
// eagerly.
func (b *BPlusTree[K]) findLeaf(key K, tr *traversal, leftMost bool) (*page.Page, error) {
	assert.Assert(tr.holdsRootMu, "findLeaf requires the root latch")

	p, err := b.pool.FetchPage(b.rootPageID)
	if err != nil {
		b.releaseAll(tr)
		return nil, err
	}

	if err := b.latchAndCrab(p, tr); err != nil {
		b.releaseAll(tr)
		return nil, err
	}
	if tr.txn != nil {
		tr.txn.AddIntoPageSet(p)
	}

	node := page.AsBTreePage(p)
	for !node.IsLeaf() {
		internal := page.AsInternalPage(p, b.codec)

		var childID common.PageID
		if leftMost {
			childID = internal.ValueAt(0)
		} else {
			childID = internal.Lookup(key, b.cmp)
		}

		lastPage := p
		p, err = b.pool.FetchPage(childID)
		if err != nil {
			if tr.txn == nil {
				lastPage.RUnlock()
				b.pool.UnpinPage(lastPage.ID(), false)
			}
			b.releaseAll(tr)
			return nil, err
		}

		if tr.txn != nil {
			if err := b.latchAndCrab(p, tr); err != nil {
				b.releaseAll(tr)
				return nil, err
			}
			child := page.AsBTreePage(p)
			if tr.op == opGet || isSafe(child, tr.op) {
				b.releaseAll(tr)
			}
			tr.txn.AddIntoPageSet(p)
		} else {
			p.RLock()
			lastPage.RUnlock()
			if tr.holdsRootMu {
				b.rootMu.Unlock()
				tr.holdsRootMu = false
			}
			b.pool.UnpinPage(lastPage.ID(), false)
		}

		node = page.AsBTreePage(p)
	}

	return p, nil
}

// GetValue looks a single key up.
func (b *BPlusTree[K]) GetValue(
	key K,
	txn *txns.Transaction,
) (optional.Optional[common.RID], error) {
	tr := &traversal{txn: txn, op: opGet}

	b.rootMu.Lock()
	if !b.rootPageID.IsValid() {
		b.rootMu.Unlock()
		return optional.None[common.RID](), nil
	}
	tr.holdsRootMu = true

	leafRaw, err := b.findLeaf(key, tr, false)
	if err != nil {
		return optional.None[common.RID](), err
	}

	leaf := page.AsLeafPage(leafRaw, b.codec)
	result := leaf.Lookup(key, b.cmp)

	if txn != nil {
		b.releaseAll(tr)
	} else {
		leafRaw.RUnlock()
		if tr.holdsRootMu {
			b.rootMu.Unlock()
		}
		b.pool.UnpinPage(leafRaw.ID(), false)
	}

	return result, nil
}

// Insert adds the pair; duplicate keys are rejected with
// ErrDuplicateKey.
func (b *BPlusTree[K]) Insert(key K, rid common.RID, txn *txns.Transaction) error {
	assert.Assert(txn != nil, "mutating traversals need a transaction for their latch set")

	tr := &traversal{txn: txn, op: opInsert}

	b.rootMu.Lock()
	if !b.rootPageID.IsValid() {
		err := b.startNewTree(key, rid)
		b.rootMu.Unlock()
		return err
	}
	tr.holdsRootMu = true

	leafRaw, err := b.findLeaf(key, tr, false)
	if err != nil {
		return err
	}

	leaf := page.AsLeafPage(leafRaw, b.codec)
	prevSize := leaf.Size()
	currentSize := leaf.Insert(key, rid, b.cmp)

	if currentSize <= leaf.MaxSize() {
		b.releaseAll(tr)
		if prevSize == currentSize {
			return ErrDuplicateKey
		}
		return nil
	}

	// leaf overflow: split and propagate
	recipientRaw, err := b.pool.NewPage()
	if err != nil {
		b.releaseAll(tr)
		return err
	}
	recipient := page.AsLeafPage(recipientRaw, b.codec)
	recipient.Init(recipientRaw.ID(), leaf.ParentPageID())
	leaf.MoveHalfTo(recipient)

	upKey := recipient.KeyAt(0)
	err = b.insertIntoParent(leaf.BTreePage, upKey, recipient.BTreePage, tr)
	b.pool.UnpinPage(recipientRaw.ID(), true)
	b.releaseAll(tr)

	return err
}

// startNewTree creates the first leaf. Caller holds rootMu.
func (b *BPlusTree[K]) startNewTree(key K, rid common.RID) error {
	p, err := b.pool.NewPage()
	if err != nil {
		return err
	}

	leaf := page.AsLeafPage(p, b.codec)
	leaf.Init(p.ID(), common.InvalidPageID)
	leaf.Insert(key, rid, b.cmp)

	b.rootPageID = p.ID()
	err = b.updateRootPageID()
	b.pool.UnpinPage(p.ID(), true)

	return err
}

// insertIntoParent pushes a separator up after a split, splitting
// recursively when the parent overflows too. A root split grows the
// tree by one level.
func (b *BPlusTree[K]) insertIntoParent(
	old *page.BTreePage,
	key K,
	newNode *page.BTreePage,
	tr *traversal,
) error {
	if old.IsRoot() {
		rootRaw, err := b.pool.NewPage()
		if err != nil {
			return err
		}

		root := page.AsInternalPage(rootRaw, b.codec)
		root.Init(rootRaw.ID(), common.InvalidPageID)
		root.PopulateNewRoot(old.BTreePageID(), key, newNode.BTreePageID())
		old.SetParentPageID(rootRaw.ID())
		newNode.SetParentPageID(rootRaw.ID())

		b.rootPageID = rootRaw.ID()
		err = b.updateRootPageID()
		b.pool.UnpinPage(rootRaw.ID(), true)

		return err
	}

	parentRaw, err := b.pool.FetchPage(old.ParentPageID())
	if err != nil {
		return err
	}
	parent := page.AsInternalPage(parentRaw, b.codec)
	parent.InsertNodeAfter(old.BTreePageID(), key, newNode.BTreePageID())

	if parent.Size() == parent.MaxSize()+1 {
		siblingRaw, err := b.pool.NewPage()
		if err != nil {
			b.pool.UnpinPage(parentRaw.ID(), true)
			return err
		}
		sibling := page.AsInternalPage(siblingRaw, b.codec)
		sibling.Init(siblingRaw.ID(), parent.ParentPageID())

		moved := parent.MoveHalfTo(sibling)
		if err := b.adoptChildren(moved, siblingRaw.ID()); err != nil {
			b.pool.UnpinPage(siblingRaw.ID(), true)
			b.pool.UnpinPage(parentRaw.ID(), true)
			return err
		}

		err = b.insertIntoParent(parent.BTreePage, sibling.KeyAt(0), sibling.BTreePage, tr)
		b.pool.UnpinPage(siblingRaw.ID(), true)
		if err != nil {
			b.pool.UnpinPage(parentRaw.ID(), true)
			return err
		}
	}

	b.pool.UnpinPage(parentRaw.ID(), true)

	return nil
}

// adoptChildren repoints moved children at their new parent. Any
// dereference goes through a fetch/unpin pair; page pointers are never
// cached across unpins.
func (b *BPlusTree[K]) adoptChildren(children []common.PageID, parentID common.PageID) error {
	for _, childID := range children {
		childRaw, err := b.pool.FetchPage(childID)
		if err != nil {
			return err
		}
		page.AsBTreePage(childRaw).SetParentPageID(parentID)
		b.pool.UnpinPage(childID, true)
	}
	return nil
}

// Remove deletes the key if present, rebalancing on underflow.
func (b *BPlusTree[K]) Remove(key K, txn *txns.Transaction) error {
	assert.Assert(txn != nil, "mutating traversals need a transaction for their latch set")

	tr := &traversal{txn: txn, op: opDelete}

	b.rootMu.Lock()
	if !b.rootPageID.IsValid() {
		b.rootMu.Unlock()
		return nil
	}
	tr.holdsRootMu = true

	leafRaw, err := b.findLeaf(key, tr, false)
	if err != nil {
		return err
	}

	leaf := page.AsLeafPage(leafRaw, b.codec)
	leaf.RemoveRecord(key, b.cmp)

	err = b.coalesceOrRedistribute(leafRaw, tr)
	b.releaseAll(tr)

	if txn != nil {
		for pageID := range txn.DeletedPageSet() {
			b.pool.DeletePage(pageID)
		}
		txn.ClearDeletedPageSet()
	}

	return err
}

// coalesceOrRedistribute restores the fill invariant of an underflowing
// node: merge with a sibling when both fit in one node, move a single
// entry over otherwise. Merging removes the separator from the parent,
// which may underflow in turn.
func (b *BPlusTree[K]) coalesceOrRedistribute(p *page.Page, tr *traversal) error {
	node := page.AsBTreePage(p)

	if node.IsRoot() {
		return b.adjustRoot(p, tr)
	}
	if node.Size() >= node.MinSize() {
		return nil
	}

	parentRaw, err := b.pool.FetchPage(node.ParentPageID())
	if err != nil {
		return err
	}
	parent := page.AsInternalPage(parentRaw, b.codec)

	index := parent.ValueIndex(node.BTreePageID())
	assert.Assert(index >= 0, "node %d missing from its parent", node.BTreePageID())

	isLeftSibling := index > 0
	var siblingID common.PageID
	if isLeftSibling {
		siblingID = parent.ValueAt(index - 1)
	} else {
		siblingID = parent.ValueAt(index + 1)
	}

	siblingRaw, err := b.pool.FetchPage(siblingID)
	if err != nil {
		b.pool.UnpinPage(parentRaw.ID(), true)
		return err
	}
	sibling := page.AsBTreePage(siblingRaw)

	if sibling.Size()+node.Size() <= node.MaxSize() {
		err = b.coalesce(p, siblingRaw, parentRaw, index, isLeftSibling, tr)
	} else {
		b.redistribute(p, siblingRaw, parentRaw, index, isLeftSibling)
	}

	b.pool.UnpinPage(siblingID, true)
	b.pool.UnpinPage(parentRaw.ID(), true)

	return err
}

// coalesce merges the right node of the pair into the left one and
// removes the separator from the parent.
func (b *BPlusTree[K]) coalesce(
	nodeRaw, siblingRaw, parentRaw *page.Page,
	index int,
	isLeftSibling bool,
	tr *traversal,
) error {
	// normalize: src is the right node, dst the left one
	src, dst := nodeRaw, siblingRaw
	sepIndex := index
	if !isLeftSibling {
		src, dst = siblingRaw, nodeRaw
		sepIndex = index + 1
	}

	parent := page.AsInternalPage(parentRaw, b.codec)

	if page.AsBTreePage(src).IsLeaf() {
		srcLeaf := page.AsLeafPage(src, b.codec)
		dstLeaf := page.AsLeafPage(dst, b.codec)
		srcLeaf.MoveAllTo(dstLeaf)
	} else {
		srcInternal := page.AsInternalPage(src, b.codec)
		dstInternal := page.AsInternalPage(dst, b.codec)
		moved := srcInternal.MoveAllTo(dstInternal, parent.KeyAt(sepIndex))
		if err := b.adoptChildren(moved, dst.ID()); err != nil {
			return err
		}
	}

	parent.Remove(sepIndex)
	if tr.txn != nil {
		tr.txn.AddIntoDeletedPageSet(src.ID())
	}

	return b.coalesceOrRedistribute(parentRaw, tr)
}

// redistribute moves one entry from the sibling into the underflowing
// node and refreshes the separator in the parent.
func (b *BPlusTree[K]) redistribute(
	nodeRaw, siblingRaw, parentRaw *page.Page,
	index int,
	isLeftSibling bool,
) {
	parent := page.AsInternalPage(parentRaw, b.codec)

	if page.AsBTreePage(nodeRaw).IsLeaf() {
		node := page.AsLeafPage(nodeRaw, b.codec)
		sibling := page.AsLeafPage(siblingRaw, b.codec)
		if isLeftSibling {
			sibling.MoveLastToFrontOf(node)
			parent.SetKeyAt(index, node.KeyAt(0))
		} else {
			sibling.MoveFirstToEndOf(node)
			parent.SetKeyAt(index+1, sibling.KeyAt(0))
		}
		return
	}

	node := page.AsInternalPage(nodeRaw, b.codec)
	sibling := page.AsInternalPage(siblingRaw, b.codec)
	if isLeftSibling {
		newSep, moved := sibling.MoveLastToFrontOf(node, parent.KeyAt(index))
		parent.SetKeyAt(index, newSep)
		assert.NoError(b.adoptChildren([]common.PageID{moved}, nodeRaw.ID()))
	} else {
		newSep, moved := sibling.MoveFirstToEndOf(node, parent.KeyAt(index+1))
		parent.SetKeyAt(index+1, newSep)
		assert.NoError(b.adoptChildren([]common.PageID{moved}, nodeRaw.ID()))
	}
}

// Begin positions an iterator at the smallest key.
func (b *BPlusTree[K]) Begin() (*Iterator[K], error) {
	tr := &traversal{op: opGet}

	b.rootMu.Lock()
	if !b.rootPageID.IsValid() {
		b.rootMu.Unlock()
		return endIterator[K](), nil
	}
	tr.holdsRootMu = true

	var zero K
	leafRaw, err := b.findLeaf(zero, tr, true)
	if err != nil {
		return endIterator[K](), err
	}
	if tr.holdsRootMu {
		b.rootMu.Unlock()
	}

	if page.AsLeafPage(leafRaw, b.codec).Size() == 0 {
		leafRaw.RUnlock()
		b.pool.UnpinPage(leafRaw.ID(), false)
		return endIterator[K](), nil
	}

	return newIterator(b.pool, b.codec, leafRaw, 0), nil
}

// BeginAt positions an iterator at the entry with exactly the given
// key, or at the end when the key is absent.
func (b *BPlusTree[K]) BeginAt(key K) (*Iterator[K], error) {
	tr := &traversal{op: opGet}

	b.rootMu.Lock()
	if !b.rootPageID.IsValid() {
		b.rootMu.Unlock()
		return endIterator[K](), nil
	}
	tr.holdsRootMu = true

	leafRaw, err := b.findLeaf(key, tr, false)
	if err != nil {
		return endIterator[K](), err
	}
	if tr.holdsRootMu {
		b.rootMu.Unlock()
	}

	leaf := page.AsLeafPage(leafRaw, b.codec)
	if leaf.Lookup(key, b.cmp).IsNone() {
		leafRaw.RUnlock()
		b.pool.UnpinPage(leafRaw.ID(), false)
		return endIterator[K](), nil
	}

	return newIterator(b.pool, b.codec, leafRaw, leaf.KeyIndex(key, b.cmp)), nil
}

// adjustRoot handles the two root shrink cases: an internal root left
// with one child promotes the child; an empty leaf root empties the
// tree.
func (b *BPlusTree[K]) adjustRoot(rootRaw *page.Page, tr *traversal) error {
	root := page.AsBTreePage(rootRaw)

	if !root.IsLeaf() && root.Size() == 1 {
		internal := page.AsInternalPage(rootRaw, b.codec)
		childID := internal.RemoveAndReturnOnlyChild()

		childRaw, err := b.pool.FetchPage(childID)
		if err != nil {
			return err
		}
		page.AsBTreePage(childRaw).SetParentPageID(common.InvalidPageID)
		b.pool.UnpinPage(childID, true)

		b.rootPageID = childID
		if err := b.updateRootPageID(); err != nil {
			return err
		}
		if tr.txn != nil {
			tr.txn.AddIntoDeletedPageSet(rootRaw.ID())
		}

		return nil
	}

	if root.IsLeaf() && root.Size() == 0 {
		b.rootPageID = common.InvalidPageID
		if err := b.updateRootPageID(); err != nil {
			return err
		}
		if tr.txn != nil {
			tr.txn.AddIntoDeletedPageSet(rootRaw.ID())
		}
	}

	return nil
}
