package index

import (
	"fmt"

	"github.com/go-faster/jx"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/page"
)

// DumpJSON renders the tree structure as JSON for inspection tools.
// It walks the tree without latching and is meant for a quiesced index.
func (b *BPlusTree[K]) DumpJSON() (string, error) {
	b.rootMu.Lock()
	root := b.rootPageID
	b.rootMu.Unlock()

	e := &jx.Encoder{}
	if !root.IsValid() {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(b.name)
		e.FieldStart("empty")
		e.Bool(true)
		e.ObjEnd()
		return e.String(), nil
	}

	e.ObjStart()
	e.FieldStart("name")
	e.Str(b.name)
	e.FieldStart("root")
	if err := b.dumpNode(e, root); err != nil {
		return "", err
	}
	e.ObjEnd()

	return e.String(), nil
}

func (b *BPlusTree[K]) dumpNode(e *jx.Encoder, pageID common.PageID) error {
	p, err := b.pool.FetchPage(pageID)
	if err != nil {
		return err
	}

	node := page.AsBTreePage(p)
	e.ObjStart()
	e.FieldStart("pageId")
	e.Int32(int32(pageID))
	e.FieldStart("size")
	e.Int(node.Size())

	if node.IsLeaf() {
		leaf := page.AsLeafPage(p, b.codec)
		e.FieldStart("type")
		e.Str("leaf")
		e.FieldStart("entries")
		e.ArrStart()
		for i := 0; i < leaf.Size(); i++ {
			e.ObjStart()
			e.FieldStart("key")
			e.Str(fmt.Sprint(leaf.KeyAt(i)))
			e.FieldStart("rid")
			e.Str(leaf.RIDAt(i).String())
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
		b.pool.UnpinPage(pageID, false)
		return nil
	}

	internal := page.AsInternalPage(p, b.codec)
	e.FieldStart("type")
	e.Str("internal")
	e.FieldStart("keys")
	e.ArrStart()
	for i := 1; i < internal.Size(); i++ {
		e.Str(fmt.Sprint(internal.KeyAt(i)))
	}
	e.ArrEnd()

	children := make([]common.PageID, 0, internal.Size())
	for i := 0; i < internal.Size(); i++ {
		children = append(children, internal.ValueAt(i))
	}
	b.pool.UnpinPage(pageID, false)

	e.FieldStart("children")
	e.ArrStart()
	for _, child := range children {
		if err := b.dumpNode(e, child); err != nil {
			return err
		}
	}
	e.ArrEnd()
	e.ObjEnd()

	return nil
}
