package index

import (
	"github.com/Blackdeer1524/RelStore/src/bufferpool"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/page"
)

// Iterator walks the leaf chain in key order. It owns a read latch and
// a pin on the current leaf; both are given up when it moves past the
// last entry or is closed early.
type Iterator[K any] struct {
	pool  *bufferpool.Manager
	codec page.KeyCodec[K]

	leafRaw *page.Page
	index   int
}

func newIterator[K any](
	pool *bufferpool.Manager,
	codec page.KeyCodec[K],
	leafRaw *page.Page,
	index int,
) *Iterator[K] {
	return &Iterator[K]{
		pool:    pool,
		codec:   codec,
		leafRaw: leafRaw,
		index:   index,
	}
}

func endIterator[K any]() *Iterator[K] {
	return &Iterator[K]{}
}

func (it *Iterator[K]) IsEnd() bool {
	return it.leafRaw == nil
}

func (it *Iterator[K]) Key() K {
	leaf := page.AsLeafPage(it.leafRaw, it.codec)
	return leaf.KeyAt(it.index)
}

func (it *Iterator[K]) RID() common.RID {
	leaf := page.AsLeafPage(it.leafRaw, it.codec)
	return leaf.RIDAt(it.index)
}

// Next advances one entry. On leaf exhaustion it read-latches the next
// leaf before releasing the current one, or turns into the end iterator
// when the chain is done.
func (it *Iterator[K]) Next() error {
	if it.IsEnd() {
		return nil
	}

	leaf := page.AsLeafPage(it.leafRaw, it.codec)
	it.index++
	if it.index < leaf.Size() {
		return nil
	}

	nextID := leaf.NextPageID()
	if !nextID.IsValid() {
		it.release()
		return nil
	}

	nextRaw, err := it.pool.FetchPage(nextID)
	if err != nil {
		it.release()
		return err
	}
	nextRaw.RLock()

	it.leafRaw.RUnlock()
	it.pool.UnpinPage(it.leafRaw.ID(), false)

	it.leafRaw = nextRaw
	it.index = 0

	return nil
}

// Close releases the held leaf early; safe to call on the end iterator.
func (it *Iterator[K]) Close() {
	if !it.IsEnd() {
		it.release()
	}
}

func (it *Iterator[K]) release() {
	it.leafRaw.RUnlock()
	it.pool.UnpinPage(it.leafRaw.ID(), false)
	it.leafRaw = nil
}
