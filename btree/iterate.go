package btree

import (
	"fmt"

	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

// Each visits every (key, value) pair in the tree in strictly ascending
// key order (spec §8.3), materializing digested keys and overflowed
// values back to their full bytes. fn's error aborts the walk and is
// returned as-is; Each itself never mutates the tree.
func (t *Tree) Each(fn func(key, val []byte) error) error {
	if t.root == 0 {
		return nil
	}
	return t.eachSubtree(t.root, fn)
}

func (t *Tree) eachSubtree(pn uint64, fn func(key, val []byte) error) error {
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
		if err := t.eachSubtree(node.FirstChild, fn); err != nil {
			return err
		}
		for _, c := range node.Children {
			if err := t.eachSubtree(c, fn); err != nil {
				return err
			}
		}
		return nil
	case page.KindLeaf:
		leaf, err := pageformat.DecodeLeaf(body)
		if err != nil {
			return fmt.Errorf("btree: decode leaf page %d: %w", pn, err)
		}
		for _, e := range leaf.Entries {
			key, err := t.materialize(e.Key)
			if err != nil {
				return err
			}
			val, err := t.materialize(e.Val)
			if err != nil {
				return err
			}
			if err := fn(key, val); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: page %d is kind %v, want internal or leaf", ErrCorrupt, pn, kind)
	}
}
