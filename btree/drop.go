package btree

import (
	"fmt"

	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

// DropAll frees every page reachable from the tree's root — internal
// pages, leaf pages, and any overflow chains their entries spill into —
// then resets the tree to empty. The façade uses this for drop_table
// (spec §4.8): an entire subtree is discarded within one transaction
// rather than entry by entry, so its pages are reclaimed through the
// same pending_free set as any other edit in the transaction.
func (t *Tree) DropAll() error {
	if t.root == 0 {
		return nil
	}
	if err := t.freeSubtree(t.root); err != nil {
		return err
	}
	t.root = 0
	return nil
}

func (t *Tree) freeSubtree(pn uint64) error {
	kind, body, err := t.readPage(pn)
	if err != nil {
		return err
	}
	switch kind {
	case page.KindInternal:
		node, err := pageformat.DecodeInternal(body)
		if err != nil {
			return fmt.Errorf("btree: decode internal page %d: %w", pn, err)
		}
		if err := t.freeSubtree(node.FirstChild); err != nil {
			return err
		}
		for _, c := range node.Children {
			if err := t.freeSubtree(c); err != nil {
				return err
			}
		}
	case page.KindLeaf:
		leaf, err := pageformat.DecodeLeaf(body)
		if err != nil {
			return fmt.Errorf("btree: decode leaf page %d: %w", pn, err)
		}
		for _, e := range leaf.Entries {
			if err := t.freeRepr(e.Key); err != nil {
				return err
			}
			if err := t.freeRepr(e.Val); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: page %d is kind %v, want internal or leaf", ErrCorrupt, pn, kind)
	}
	t.alloc.Free(pn)
	return nil
}
