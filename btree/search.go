package btree

import (
	"fmt"

	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

// descend walks from the root to the leaf that would hold cmpKey,
// returning the path of page numbers visited (root first, leaf last).
func (t *Tree) descend(cmpKey []byte) ([]uint64, error) {
	path, _, err := t.descendWithSlots(cmpKey)
	return path, err
}

// descendWithSlots is descend plus, for every internal page visited, the
// combined child slot (spec §3's FirstChild/Children[i] numbering) that led
// to the next page down. len(slots) == len(path)-1: slots[i] is the slot
// chosen within path[i] that led to path[i+1]. Put and Delete need this to
// rebuild ancestors after editing the leaf.
func (t *Tree) descendWithSlots(cmpKey []byte) (path []uint64, slots []int, err error) {
	if t.root == 0 {
		return nil, nil, nil
	}
	path = []uint64{t.root}
	pn := t.root
	for {
		kind, body, err := t.readPage(pn)
		if err != nil {
			return nil, nil, err
		}
		if kind != page.KindInternal {
			if kind != page.KindLeaf {
				return nil, nil, fmt.Errorf("%w: page %d is kind %v, want internal or leaf", ErrCorrupt, pn, kind)
			}
			return path, slots, nil
		}
		node, err := pageformat.DecodeInternal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("btree: decode internal page %d: %w", pn, err)
		}
		slot := node.ChildFor(cmpKey, cmp)
		pn = node.Child(slot)
		path = append(path, pn)
		slots = append(slots, slot)
	}
}

// Get returns the value stored for key, or ErrNotFound.
func (t *Tree) Get(key []byte) ([]byte, error) {
	if len(key) > maxItemSize {
		return nil, ErrKeyTooLarge
	}
	cmpKey, digested := comparisonKeyFor(key)
	path, err := t.descend(cmpKey)
	if err != nil {
		return nil, err
	}
	if path == nil {
		return nil, ErrNotFound
	}
	leafPn := path[len(path)-1]
	_, body, err := t.readPage(leafPn)
	if err != nil {
		return nil, err
	}
	leaf, err := pageformat.DecodeLeaf(body)
	if err != nil {
		return nil, fmt.Errorf("btree: decode leaf page %d: %w", leafPn, err)
	}

	idx, exact := leaf.Find(cmpKey, cmp)
	if !exact {
		return nil, ErrNotFound
	}
	for idx < len(leaf.Entries) {
		e := leaf.Entries[idx]
		if cmp(e.ComparisonKey(), cmpKey) != 0 {
			return nil, ErrNotFound
		}
		if digested {
			ok, err := t.verifyDigestedKey(e.Key, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				// digest collision in the 224-byte prefix (or a hash
				// collision, treated as impossible): keep scanning the
				// small bound of equal-digest entries (spec §4.6).
				idx++
				continue
			}
		}
		return t.materialize(e.Val)
	}
	return nil, ErrNotFound
}
